// Package tls serves the HTTP handler with certificates managed by
// CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
// Without a subscription the HTTP-01 and TLS-ALPN challenges are used.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Enabled reports whether DNS-01 is configured.
func (c DNSConfig) Enabled() bool {
	return c.SubscriptionID != "" && c.ResourceGroupName != ""
}

// Timeouts are the HTTP server timeouts.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Server serves a handler over HTTP or, when enabled, HTTPS.
type Server struct {
	config    Config
	logger    *slog.Logger
	server    *http.Server
	tlsConfig *tls.Config
}

// NewServer creates the server listening on addr.
func NewServer(cfg Config, addr string, handler http.Handler, timeouts Timeouts, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       timeouts.Read,
			WriteTimeout:      timeouts.Write,
			IdleTimeout:       timeouts.Idle,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if !cfg.Enabled {
		return s, nil
	}

	if len(cfg.Domains) == 0 {
		return nil, errors.New("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, errors.New("TLS enabled but no email specified")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}
	if cfg.DNS.Enabled() {
		certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID, // Empty = System Assigned Managed Identity
				},
			},
		}
	}

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	s.tlsConfig = tlsConfig
	s.server.TLSConfig = tlsConfig
	return s, nil
}

// ListenAndServe serves until Shutdown. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	if !s.config.Enabled {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", s.server.Addr)
		return s.server.ListenAndServe()
	}

	challenge := "http-01"
	if s.config.DNS.Enabled() {
		challenge = "dns-01"
	}
	s.logger.Info("starting HTTPS server",
		"address", s.server.Addr,
		"domains", s.config.Domains,
		"challenge", challenge,
	)
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration, nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// ManageCertificates pre-obtains certificates for the configured domains.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := certmagic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates obtained successfully")
	return nil
}
