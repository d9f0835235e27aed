package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// setupTLS builds a TLS config for the web listener: Let's Encrypt when a
// domain is configured, otherwise a provided cert/key pair. Returns nil
// when TLS is not configured at all.
func setupTLS(cfg Config) (*tls.Config, error) {
	if cfg.WebDomain != "" {
		cacheDir := filepath.Join(cfg.DataDir, "autocert-cache")
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating autocert cache dir: %w", err)
		}
		log.Printf("tls: using Let's Encrypt for domain %q", cfg.WebDomain)
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.WebDomain),
			Cache:      autocert.DirCache(cacheDir),
		}
		return m.TLSConfig(), nil
	}

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("loading TLS cert: %w", err)
		}
		log.Printf("tls: loaded cert from %s", cfg.TLSCert)
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}

	return nil, nil
}
