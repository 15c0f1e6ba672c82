// Package tlsconfig builds the TLS configuration of the metrics endpoint.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config names the PEM files used to serve TLS.
type Config struct {
	CertPath string
	KeyPath  string

	// CACertPath, when set, requires clients to present a certificate signed
	// by this CA.
	CACertPath string
}

// Enabled reports whether any TLS file is configured.
func (c Config) Enabled() bool {
	return c.CertPath != "" || c.KeyPath != "" || c.CACertPath != ""
}

// SetupTLS loads the server certificate and, if configured, the client CA.
func SetupTLS(config Config) (*tls.Config, error) {
	if config.CertPath == "" || config.KeyPath == "" {
		return nil, errors.New("certificate and key are both required")
	}

	cert, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}

	if config.CACertPath == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(config.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf(
			"failed to parse CA certificate '%s'",
			config.CACertPath,
		)
	}

	tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	tlsConfig.ClientCAs = caCertPool

	return tlsConfig, nil
}
