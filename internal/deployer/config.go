package deployer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// DefaultVHost is used when Deploy or Undeploy is called with an empty vhost.
const DefaultVHost = "localhost"

// Config holds every option the deployer recognizes. Build one with
// DefaultConfig and override fields; LoadConfig and ApplyEnv do the same
// from a YAML file and DEPLOYER_* environment variables.
type Config struct {
	// UndeployOnError rolls back every attempted context when the new
	// deployment does not converge.
	UndeployOnError bool `yaml:"undeploy_on_error" env:"UNDEPLOY_ON_ERROR"`

	// PollInterval is the sleep between two status or memory re-checks.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`

	// DeployWait bounds the convergence wait, counted in accumulated sleep.
	DeployWait time.Duration `yaml:"deploy_wait" env:"DEPLOY_WAIT"`

	// GCWait bounds the wait for memory to be reclaimed after GC, counted in
	// accumulated sleep.
	GCWait time.Duration `yaml:"gc_wait" env:"GC_WAIT"`

	// RequiredFreeMemPct is the share of every pool that must be free.
	RequiredFreeMemPct int `yaml:"required_free_mem_pct" env:"REQUIRED_FREE_MEM_PCT"`

	// CheckMemory enables the free-memory check before uploading.
	CheckMemory bool `yaml:"check_memory" env:"CHECK_MEMORY"`

	// AutoGC asks nodes below the threshold to collect garbage, then
	// re-checks until GCWait runs out.
	AutoGC bool `yaml:"auto_gc" env:"AUTO_GC"`

	// KillSessions expires sessions of old versions instead of refusing
	// the upgrade.
	KillSessions bool `yaml:"kill_sessions" env:"KILL_SESSIONS"`

	// AutoReboot is accepted for compatibility with existing option files.
	// Rebooting nodes to reclaim memory is not implemented.
	AutoReboot bool `yaml:"auto_reboot" env:"AUTO_REBOOT"`

	// NoisePools lists memory pools ignored by the memory check.
	NoisePools []string `yaml:"noise_pools" env:"NOISE_POOLS" envSeparator:","`
}

// DefaultConfig returns the stock option set.
func DefaultConfig() Config {
	return Config{
		UndeployOnError:    true,
		PollInterval:       5 * time.Second,
		DeployWait:         30 * time.Second,
		GCWait:             30 * time.Second,
		RequiredFreeMemPct: 50,
		CheckMemory:        true,
		AutoGC:             true,
		KillSessions:       false,
		AutoReboot:         false,
		NoisePools:         []string{"Par Eden Space", "Par Survivor Space"},
	}
}

// Validate reports the first option that is out of range.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	case c.DeployWait < 0:
		return fmt.Errorf("deploy_wait must not be negative, got %s", c.DeployWait)
	case c.GCWait < 0:
		return fmt.Errorf("gc_wait must not be negative, got %s", c.GCWait)
	case c.RequiredFreeMemPct < 0 || c.RequiredFreeMemPct > 100:
		return fmt.Errorf("required_free_mem_pct must be within 0..100, got %d", c.RequiredFreeMemPct)
	}
	return nil
}

// LoadConfig reads a YAML option file on top of DefaultConfig. Keys that do
// not name a Config field are rejected. Durations use Go syntax ("5s").
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening deployer config: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig is LoadConfig over an arbitrary reader.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing deployer config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with DEPLOYER_* variables from the process
// environment. Unset variables leave the field alone.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, nil)
}

func applyEnv(cfg *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "DEPLOYER_", Environment: environ}); err != nil {
		return fmt.Errorf("parsing deployer env: %w", err)
	}
	return cfg.Validate()
}
