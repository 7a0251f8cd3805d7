package simulation

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sarchlab/workertiming/redirect"
	"github.com/sarchlab/workertiming/timing"
)

// EnvPrefix is the prefix of the environment variables read by LoadConfig.
const EnvPrefix = "WTIMING"

// Config holds the run-time knobs of a Simulation.
type Config struct {
	RedirectPolicy redirect.Policy
	SessionTimeout timing.VTimeInMs
	DBPath         string
	Monitor        bool
	MonitorPort    int
	OpenBrowser    bool
	ParallelIDs    bool
	Verbose        bool
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		RedirectPolicy: redirect.PolicyOriginSensitive,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redirect_policy", redirect.PolicyOriginSensitive.String())
	v.SetDefault("session_timeout_ms", 0)
	v.SetDefault("db_path", "")
	v.SetDefault("monitor", false)
	v.SetDefault("monitor_port", 0)
	v.SetDefault("open_browser", false)
	v.SetDefault("parallel_ids", false)
	v.SetDefault("verbose", false)
}

// LoadConfig reads the configuration. Variables in a .env file of the working
// directory are loaded into the environment first, if the file exists. The
// environment, prefixed with WTIMING_, overrides the file at path, which is
// optional.
func LoadConfig(path string) (Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	policy, err := redirect.ParsePolicy(v.GetString("redirect_policy"))
	if err != nil {
		return Config{}, err
	}

	timeout := v.GetFloat64("session_timeout_ms")
	if timeout < 0 {
		return Config{}, fmt.Errorf("session_timeout_ms must not be negative, got %v",
			timeout)
	}

	return Config{
		RedirectPolicy: policy,
		SessionTimeout: timing.VTimeInMs(timeout),
		DBPath:         v.GetString("db_path"),
		Monitor:        v.GetBool("monitor"),
		MonitorPort:    v.GetInt("monitor_port"),
		OpenBrowser:    v.GetBool("open_browser"),
		ParallelIDs:    v.GetBool("parallel_ids"),
		Verbose:        v.GetBool("verbose"),
	}, nil
}
