package config

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/errors"
)

// ServerTLSConfig builds the tls.Config for the web server. It returns nil
// when TLS is disabled.
func (c HTTPConfig) ServerTLSConfig(logger *logrus.Logger) (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	switch c.TLSMinVersion {
	case "", "1.2":
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		return nil, errors.NewInvalidInput(fmt.Sprintf("unsupported TLS minimum version: %s", c.TLSMinVersion))
	}

	cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load TLS certificate")
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	if tlsConfig.MinVersion == tls.VersionTLS12 {
		tlsConfig.CipherSuites = []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		}
	}

	logger.WithFields(logrus.Fields{
		"cert_file":   c.TLSCertFile,
		"min_version": c.TLSMinVersion,
	}).Info("TLS configured for HTTP server")

	return tlsConfig, nil
}
