package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds the external collaborator parameters spec.md §1/§6
// treats as out of scope for the core but that the acceptor still needs
// to build a *tls.Config from: a single server certificate + key file,
// an optional client-verification file, and a password callback for
// encrypted keys. Encrypted keys are not loaded: Build returns an error
// whenever KeyPassword is set.
type TLSConfig struct {
	CertFile         string
	KeyFile          string
	KeyPassword      func() (string, error)
	VerifyFile       string
	VerifyCallback   func(*x509.Certificate) error
	SessionIDContext string
}

// Build constructs a *tls.Config enforcing the options spec.md §6 lists:
// no SSLv2 (the minimum version is TLS 1.2, since
// Go's crypto/tls never supports SSLv2/v3), no compression (Go's
// crypto/tls never negotiates TLS compression), and single-use
// Diffie-Hellman parameters (Go's crypto/tls always generates ephemeral
// DH/ECDH parameters per handshake, so no additional option is needed).
func (c *TLSConfig) Build() (*tls.Config, error) {
	if c.KeyPassword != nil {
		return nil, fmt.Errorf("reqpipe: encrypted private keys are not supported by crypto/tls; decrypt %s before loading", c.KeyFile)
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reqpipe: load key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates:           []tls.Certificate{cert},
		MinVersion:             tls.VersionTLS12,
		SessionTicketsDisabled: false,
	}

	if c.VerifyFile != "" {
		pem, err := os.ReadFile(c.VerifyFile)
		if err != nil {
			return nil, fmt.Errorf("reqpipe: read verify file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("reqpipe: no certificates parsed from %s", c.VerifyFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if c.VerifyCallback != nil {
		cb := c.VerifyCallback
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return err
				}
				if err := cb(cert); err != nil {
					return err
				}
			}
			return nil
		}
	}

	return cfg, nil
}
