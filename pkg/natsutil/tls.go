package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/terminal-discovery/pkg/models"
)

var (
	ErrMTLSRequired    = errors.New("security mode must be mtls")
	ErrTLSIncomplete   = errors.New("mtls requires cert_file, key_file and ca_file")
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
)

// TLSConfig builds the client side of the mTLS handshake with the NATS
// server that receives terminal change events. Paths are expected to be
// resolved already, as config.LoadAndValidate does.
func TLSConfig(sec *models.SecurityConfig) (*tls.Config, error) {
	if sec == nil || sec.Mode != models.SecurityModeMTLS {
		return nil, ErrMTLSRequired
	}

	files := sec.TLS
	if files.CertFile == "" || files.KeyFile == "" || files.CAFile == "" {
		return nil, ErrTLSIncomplete
	}

	roots, err := loadCAPool(files.CAFile)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate %s: %w", files.CertFile, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      roots,
		ServerName:   sec.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate %s: %w", path, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrCAParsingFailed, path)
	}

	return pool, nil
}
