package rpcserver

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// ErrMissingAddress is returned by NewFromConfig when no listen address is
// configured.
var ErrMissingAddress = errors.New("rpcserver: listen address is required")

// Config holds server configuration with environment-variable support, in
// the same caarlos0/env shape the rest of this module's ambient
// configuration uses.
type Config struct {
	Addr string `env:"RPC_ADDR" envDefault:":4000"`

	ShutdownTimeout time.Duration `env:"RPC_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	TLSCertFile string `env:"RPC_TLS_CERT_FILE" envDefault:""`
	TLSKeyFile  string `env:"RPC_TLS_KEY_FILE" envDefault:""`
}

// NewFromConfig builds a Server from cfg, loading TLS materials from file
// paths when both are configured. Additional opts are applied after the
// config-derived ones, so they can override config values.
func NewFromConfig(cfg Config, opts ...Option) (*Server, error) {
	if cfg.Addr == "" {
		return nil, ErrMissingAddress
	}

	configOpts := make([]Option, 0, len(opts)+2)
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsConfig, err := loadTLSFromFiles(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("rpcserver: load tls config from %s, %s: %w", cfg.TLSCertFile, cfg.TLSKeyFile, err)
		}
		configOpts = append(configOpts, WithTLS(tlsConfig))
	}
	configOpts = append(configOpts, opts...)

	return New(cfg.Addr, configOpts...), nil
}

func loadTLSFromFiles(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
