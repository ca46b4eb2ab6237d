// Package remote is the shared client for the hosted data service.
package remote

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ErrNotConfigured is returned when the endpoint or the API key is missing.
var ErrNotConfigured = errors.New("remote data service not configured")

// Config locates the data service.
type Config struct {
	Endpoint string
	APIKey   string
}

// Complete reports whether both the endpoint and the key are set.
func (c Config) Complete() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

// Provider hands out a single process-wide Client. It is constructed on the
// first successful Get and reused after that; the configuration never changes.
type Provider struct {
	cfg    Config
	logger *zap.Logger
	opts   []grpc.DialOption

	mu     sync.Mutex
	client *Client
	warned bool
	closed bool
}

// NewProvider creates a Provider for cfg. Dial options are passed through to
// the client.
func NewProvider(cfg Config, logger *zap.Logger, opts ...grpc.DialOption) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger, opts: opts}
}

// Get returns the shared client, or nil when the service is not configured or
// cannot be reached. A missing configuration is logged once.
func (p *Provider) Get() *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil || p.closed {
		return p.client
	}
	if !p.cfg.Complete() {
		if !p.warned {
			p.logger.Warn("data service endpoint or api key missing; running without remote data",
				zap.Bool("endpoint_set", p.cfg.Endpoint != ""),
				zap.Bool("api_key_set", p.cfg.APIKey != ""),
			)
			p.warned = true
		}
		return nil
	}

	client, err := Dial(p.cfg, p.logger, p.opts...)
	if err != nil {
		p.logger.Error("failed to create data service client", zap.Error(err))
		return nil
	}
	p.client = client
	return client
}

// Close releases the shared client if one was created. Get returns nil afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
