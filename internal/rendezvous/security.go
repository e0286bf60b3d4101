package rendezvous

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrTLSCertFileRequired = errors.New("rendezvous: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("rendezvous: tls key file required")
	ErrTLSCAFileRequired   = errors.New("rendezvous: tls ca file required for mutual tls")
	ErrTLSCAUnreadable     = errors.New("rendezvous: tls ca file unreadable")
)

// ServerTLS is the coordinator-side transport security configuration.
// Mutual requires workers to present certificates signed by CAFile.
type ServerTLS struct {
	Enabled  bool
	Mutual   bool
	CertFile string
	KeyFile  string
	CAFile   string
}

func (s ServerTLS) enabled() bool {
	return s.Enabled
}

func (s ServerTLS) Validate() error {
	if !s.Enabled {
		if s.Mutual {
			return ErrTLSCertFileRequired
		}
		return nil
	}
	if s.CertFile == "" {
		return ErrTLSCertFileRequired
	}
	if s.KeyFile == "" {
		return ErrTLSKeyFileRequired
	}
	if s.Mutual && s.CAFile == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (s ServerTLS) config() (*tls.Config, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: load key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if s.Mutual {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTLSCAUnreadable, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSCAUnreadable, s.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
