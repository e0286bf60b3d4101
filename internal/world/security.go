package world

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrTLSCAUnreadable   = errors.New("world: tls ca file unreadable")
	ErrTLSKeyPairInvalid = errors.New("world: tls cert/key pair invalid")
	ErrTLSKeyPairPartial = errors.New("world: tls cert and key must both be set")
)

// ClientTLS is the worker-side transport security configuration. CAFile
// alone gives server verification; cert and key add mutual TLS.
type ClientTLS struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
}

func (c ClientTLS) enabled() bool {
	return c.CAFile != "" || c.CertFile != "" || c.KeyFile != ""
}

func (c ClientTLS) config() (*tls.Config, error) {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return nil, ErrTLSKeyPairPartial
	}
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.ServerName,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTLSCAUnreadable, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSCAUnreadable, c.CAFile)
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTLSKeyPairInvalid, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
