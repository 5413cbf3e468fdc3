package push

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/sideshow/apns2/certificate"
)

// tls12CipherSuites are the AEAD forward-secret suites allowed when TLS 1.2
// is negotiated. TLS 1.3 suites are not configurable and are all strong.
var tls12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// loadCredentials reads the client identity and trust store named by info
// and returns the TLS configuration used for every connection.
func loadCredentials(info ConnectionInfo) (*tls.Config, error) {
	certPEM, err := os.ReadFile(info.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(info.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client key: %w", err)
	}
	pemBundle := make([]byte, 0, len(certPEM)+len(keyPEM)+1)
	pemBundle = append(pemBundle, certPEM...)
	pemBundle = append(pemBundle, '\n')
	pemBundle = append(pemBundle, keyPEM...)
	clientCert, err := certificate.FromPemBytes(pemBundle, "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credential: %w", err)
	}

	caPEM, err := os.ReadFile(info.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, errors.New("trust store contains no PEM certificates")
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: tls12CipherSuites,
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      roots,
		ServerName:   info.Host,
		NextProtos:   []string{"h2"},
	}, nil
}
