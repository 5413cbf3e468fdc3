package push

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/http2"
)

const (
	maxFrameSize      = 16 << 10
	maxHeaderListSize = 4 << 10
	initialWindowSize = 64 << 10
)

// Link is the multiplexed transport a Connection carries its streams on.
// *http2.ClientConn satisfies it.
type Link interface {
	// ReserveNewRequest claims a stream slot on the link for the next
	// RoundTrip. It reports false when the link cannot start another stream.
	ReserveNewRequest() bool
	RoundTrip(req *http.Request) (*http.Response, error)
	State() http2.ClientConnState
	// Shutdown sends GOAWAY and waits for active streams to finish.
	Shutdown(ctx context.Context) error
	Close() error
}

// DialFunc opens an authenticated Link to the endpoint in info.
type DialFunc func(ctx context.Context, tlsConfig *tls.Config, info ConnectionInfo) (Link, error)

// dialLink performs the TCP dial, the TLS handshake and the HTTP/2 preface.
func dialLink(ctx context.Context, tlsConfig *tls.Config, info ConnectionInfo) (Link, error) {
	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", info.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway %s: %w", info.Addr, err)
	}

	tlsConn := tls.Client(rawConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("tls handshake with %s failed: %w", info.Host, err)
	}
	if proto := tlsConn.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("gateway %s negotiated %q instead of h2", info.Host, proto)
	}

	transport, err := newHTTP2Transport(tlsConfig)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	cc, err := transport.NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("http2 handshake with %s failed: %w", info.Host, err)
	}
	return cc, nil
}

func newHTTP2Transport(tlsConfig *tls.Config) (*http2.Transport, error) {
	t1 := &http.Transport{
		TLSClientConfig: tlsConfig,
		HTTP2: &http.HTTP2Config{
			MaxReadFrameSize:              maxFrameSize,
			MaxReceiveBufferPerConnection: initialWindowSize,
			MaxReceiveBufferPerStream:     initialWindowSize,
		},
	}
	t2, err := http2.ConfigureTransports(t1)
	if err != nil {
		return nil, fmt.Errorf("failed to configure http2 transport: %w", err)
	}
	t2.MaxReadFrameSize = maxFrameSize
	t2.MaxHeaderListSize = maxHeaderListSize
	// the peer's SETTINGS_MAX_CONCURRENT_STREAMS is a hard ceiling, so a
	// full link fails ReserveNewRequest instead of queueing
	t2.StrictMaxConcurrentStreams = true
	return t2, nil
}
