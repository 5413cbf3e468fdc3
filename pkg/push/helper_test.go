package push

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeCredentials writes a self-signed client certificate, its PKCS#1 key
// and a trust store holding the same certificate into dir.
func writeCredentials(t *testing.T, dir string) (certPath, keyPath, caPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "push-test-client"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER := x509.MarshalPKCS1PrivateKey(key)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})

	certPath = filepath.Join(dir, "client.pem")
	keyPath = filepath.Join(dir, "client.key")
	caPath = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caPath, certPEM, 0o600))
	return certPath, keyPath, caPath
}

// fakeLink is an in-memory Link whose responses come from handler.
type fakeLink struct {
	handler func(*http.Request) (*http.Response, error)

	saturated atomic.Bool
	closing   atomic.Bool
	closed    atomic.Bool
	shutdowns atomic.Int32
	requests  atomic.Int32

	// set before the link is used
	shutdownErr error
	closeErr    error
}

func newFakeLink(handler func(*http.Request) (*http.Response, error)) *fakeLink {
	if handler == nil {
		handler = func(*http.Request) (*http.Response, error) { return response(http.StatusOK, ""), nil }
	}
	return &fakeLink{handler: handler}
}

func (l *fakeLink) ReserveNewRequest() bool {
	return !l.saturated.Load() && !l.closing.Load() && !l.closed.Load()
}

func (l *fakeLink) RoundTrip(req *http.Request) (*http.Response, error) {
	l.requests.Add(1)
	if l.closed.Load() {
		return nil, errors.New("fake link closed")
	}
	return l.handler(req)
}

func (l *fakeLink) State() http2.ClientConnState {
	return http2.ClientConnState{Closed: l.closed.Load(), Closing: l.closing.Load()}
}

func (l *fakeLink) Shutdown(context.Context) error {
	l.shutdowns.Add(1)
	l.closed.Store(true)
	return l.shutdownErr
}

func (l *fakeLink) Close() error {
	l.closed.Store(true)
	return l.closeErr
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// fakeDialer hands out links built by newLink and records them.
type fakeDialer struct {
	newLink func() *fakeLink
	dialErr error
	dials   atomic.Int32
	links   chan *fakeLink
}

func newFakeDialer(newLink func() *fakeLink) *fakeDialer {
	return &fakeDialer{newLink: newLink, links: make(chan *fakeLink, 64)}
}

func (d *fakeDialer) dial(context.Context, *tls.Config, ConnectionInfo) (Link, error) {
	d.dials.Add(1)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	l := d.newLink()
	select {
	case d.links <- l:
	default:
	}
	return l, nil
}

func testInfo(t *testing.T) ConnectionInfo {
	t.Helper()
	certPath, keyPath, caPath := writeCredentials(t, t.TempDir())
	return ConnectionInfo{
		CertPath:             certPath,
		KeyPath:              keyPath,
		CAPath:               caPath,
		Host:                 "gateway.test",
		Addr:                 "gateway.test:443",
		MaxConcurrentStreams: 4,
		Topic:                []byte("com.example.app"),
	}
}

// newTestSession builds a running session around a fake dialer.
func newTestSession(t *testing.T, d *fakeDialer, opts ...Option) *Session {
	t.Helper()
	o := defaultOptions()
	o.dial = d.dial
	o.monitorInterval = 10 * time.Millisecond
	o.shutdownGrace = 100 * time.Millisecond
	for _, opt := range opts {
		opt(&o)
	}
	s := newSession(testInfo(t), o, newTestLogger())
	go s.reap(o.reapInterval)
	t.Cleanup(func() {
		if s.IsOpen() {
			_ = s.Close()
		}
	})
	return s
}

func newTestConnection(t *testing.T, link Link, lastUsed time.Time) *Connection {
	t.Helper()
	o := defaultOptions()
	o.monitorInterval = 10 * time.Millisecond
	o.shutdownGrace = 100 * time.Millisecond
	info := ConnectionInfo{Host: "gateway.test", MaxConcurrentStreams: 4, Topic: []byte("t")}
	c := newConnection(link, info, o, lastUsed, newTestLogger())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

const testToken = Token("00fc13adff785122b4ad28809a3420982341241421348097878e577c991de8f0")
