package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// TemporalTLS builds the mTLS config the API and the worker dial Temporal
// with. It returns nil, nil when TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY are
// unset and the connection stays plaintext.
func (c *Config) TemporalTLS() (*tls.Config, error) {
	t := c.Temporal
	if t.TLSCert == "" && t.TLSKey == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(t.TLSCert, t.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert (TEMPORAL_TLS_CERT=%s): %w", t.TLSCert, err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse temporal client cert %s: %w", t.TLSCert, err)
	}
	if now := time.Now(); now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("temporal client cert %s expired at %s", t.TLSCert, leaf.NotAfter.Format(time.RFC3339))
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ServerName:   t.TLSServerName,
	}

	if t.TLSCACert != "" {
		caPEM, err := os.ReadFile(t.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read temporal CA cert (TEMPORAL_TLS_CA_CERT=%s): %w", t.TLSCACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse temporal CA cert %s: no PEM certificates", t.TLSCACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
