// Package cli is the shared bootstrap of the client binaries: it resolves
// the profile, the config and the data service endpoint.
package cli

import (
	"fmt"

	"github.com/matheus3301/deskline/internal/clock"
	"github.com/matheus3301/deskline/internal/config"
	"github.com/matheus3301/deskline/internal/entity"
	"github.com/matheus3301/deskline/internal/local"
	"github.com/matheus3301/deskline/internal/logging"
	"github.com/matheus3301/deskline/internal/paths"
	"github.com/matheus3301/deskline/internal/remote"
	"github.com/matheus3301/deskline/internal/typing"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Flags are the options every client binary accepts.
type Flags struct {
	Profile string
	URL     string
	APIKey  string
	Debug   bool
}

// Register adds the flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.Profile, "profile", "", "profile name (overrides config default)")
	fs.StringVar(&f.URL, "url", "", "data service endpoint (default: the local desklined socket)")
	fs.StringVar(&f.APIKey, "api-key", "", "data service API key")
	fs.BoolVar(&f.Debug, "debug", false, "debug logging")
}

// Env is a resolved client environment.
type Env struct {
	Config   *config.Config
	Profile  string
	State    *local.Persistent
	Session  *local.Session
	Remote   remote.Config
	Provider *remote.Provider
	Logger   *zap.Logger
}

// Load resolves f against the config file and the environment. component
// names the log file.
func Load(f Flags, component string) (*Env, error) {
	cfg, err := config.LoadOrDefault(paths.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()

	profile := paths.ResolveProfile(f.Profile)
	if err := paths.ValidateName(profile); err != nil {
		return nil, err
	}
	if err := paths.EnsureDir(paths.ProfileDir(profile)); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Path:      paths.LogPath(paths.ProfileDir(profile), component),
		Component: component,
		Debug:     f.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	state, err := local.OpenPersistent(paths.StatePath(profile))
	if err != nil {
		return nil, err
	}

	session := local.NewSession()
	session.SetActiveOrg(state.Identity().OrgID)

	rc := ResolveRemote(cfg, f)
	logger.Debug("client environment resolved",
		zap.String("profile", profile),
		zap.String("endpoint", rc.Endpoint),
	)
	return &Env{
		Config:   cfg,
		Profile:  profile,
		State:    state,
		Session:  session,
		Remote:   rc,
		Provider: remote.NewProvider(rc, logger),
		Logger:   logger,
	}, nil
}

// ResolveRemote picks the endpoint and key: flags first, then config and
// environment, then the local daemon's unix socket.
func ResolveRemote(cfg *config.Config, f Flags) remote.Config {
	rc := remote.Config{Endpoint: cfg.Service.URL, APIKey: cfg.Service.APIKey}
	if f.URL != "" {
		rc.Endpoint = f.URL
	}
	if f.APIKey != "" {
		rc.APIKey = f.APIKey
	}
	if rc.Endpoint == "" {
		dir := cfg.Daemon.DataDir
		if dir == "" {
			dir = paths.DaemonDir()
		}
		rc.Endpoint = "unix://" + paths.SocketPath(dir)
	}
	return rc
}

// Client returns the shared data service client or an error explaining why
// there is none.
func (e *Env) Client() (*remote.Client, error) {
	if c := e.Provider.Get(); c != nil {
		return c, nil
	}
	if !e.Remote.Complete() {
		return nil, fmt.Errorf("%w: set --api-key, %s or [service] api_key", remote.ErrNotConfigured, config.EnvAPIKey)
	}
	return nil, fmt.Errorf("cannot reach data service at %s", e.Remote.Endpoint)
}

// Loader returns an entity loader over c using the configured customer TTL.
func (e *Env) Loader(c *remote.Client) *entity.Loader {
	var src entity.Source
	if c != nil {
		src = c
	}
	return entity.NewLoader(src, clock.Real(), e.Logger, entity.WithCustomerTTL(e.Config.Cache.CustomerTTL.Duration))
}

// TypingOptions returns the configured typing timeouts.
func (e *Env) TypingOptions() typing.Options {
	return typing.Options{
		IdleTimeout: e.Config.Typing.IdleTimeout.Duration,
		StaleAfter:  e.Config.Typing.StaleAfter.Duration,
		Logger:      e.Logger,
	}
}

// Close releases the client and flushes the log.
func (e *Env) Close() {
	_ = e.Provider.Close()
	_ = e.Logger.Sync()
}
