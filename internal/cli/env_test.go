package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/deskline/internal/config"
	"github.com/matheus3301/deskline/internal/paths"
	"github.com/matheus3301/deskline/internal/remote"
)

func TestResolveRemotePrecedence(t *testing.T) {
	t.Setenv(paths.HomeEnv, "/srv/deskline")

	cfg := config.Default()
	rc := ResolveRemote(cfg, Flags{})
	if want := "unix:///srv/deskline/daemon/desklined.sock"; rc.Endpoint != want {
		t.Errorf("default endpoint = %q, want %q", rc.Endpoint, want)
	}

	cfg.Daemon.DataDir = "/data"
	if rc := ResolveRemote(cfg, Flags{}); rc.Endpoint != "unix:///data/desklined.sock" {
		t.Errorf("data dir endpoint = %q", rc.Endpoint)
	}

	cfg.Service = config.Service{URL: "dns:///svc:7070", APIKey: "from-config"}
	rc = ResolveRemote(cfg, Flags{})
	if rc.Endpoint != "dns:///svc:7070" || rc.APIKey != "from-config" {
		t.Errorf("config = %+v", rc)
	}

	rc = ResolveRemote(cfg, Flags{URL: "localhost:1", APIKey: "from-flag"})
	if rc.Endpoint != "localhost:1" || rc.APIKey != "from-flag" {
		t.Errorf("flags = %+v", rc)
	}
}

func TestLoadCreatesProfile(t *testing.T) {
	home := t.TempDir()
	t.Setenv(paths.HomeEnv, home)
	t.Setenv(config.EnvURL, "")
	t.Setenv(config.EnvAPIKey, "")
	t.Chdir(t.TempDir())

	cfg := config.Default()
	cfg.DefaultProfile = "work"
	cfg.Cache.CustomerTTL = config.Duration{Duration: time.Minute}
	if err := config.Save(paths.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}

	env, err := Load(Flags{}, "desklinectl")
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()

	if env.Profile != "work" {
		t.Errorf("profile = %q, want work from config", env.Profile)
	}
	if _, err := os.Stat(filepath.Join(home, "profiles", "work")); err != nil {
		t.Errorf("profile dir missing: %v", err)
	}
	if env.TypingOptions().IdleTimeout != 3*time.Second {
		t.Errorf("idle timeout = %v", env.TypingOptions().IdleTimeout)
	}

	// No key anywhere: the provider stays empty and Client explains why.
	if _, err := env.Client(); !errors.Is(err, remote.ErrNotConfigured) {
		t.Errorf("Client() error = %v, want ErrNotConfigured", err)
	}
	if env.Loader(nil) == nil {
		t.Error("Loader(nil) should still return a loader")
	}
}

func TestLoadRejectsBadProfile(t *testing.T) {
	t.Setenv(paths.HomeEnv, t.TempDir())
	t.Chdir(t.TempDir())
	if _, err := Load(Flags{Profile: "../escape"}, "desklinectl"); err == nil {
		t.Error("invalid profile name should fail")
	}
}
