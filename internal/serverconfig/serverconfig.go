// Package serverconfig layers CLI flags over an optional TOML config file
// over built-in defaults for the MiniSQL server process (spec.md §6
// "CLI"), the same flags > file > default precedence the teacher's
// internal/config builds with viper, adapted here from YAML to the TOML
// library present in the retrieved dependency set since MiniSQL is a
// standalone server process rather than a per-repo CLI that walks up
// looking for a project-local config directory.
package serverconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config is the fully resolved server configuration (spec.md §6 CLI
// defaults: port 3306, data dir "./data", user "root", password
// "password").
type Config struct {
	Port     int      `mapstructure:"port"`
	DataDir  string   `mapstructure:"data_dir"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
	Engines  []string `mapstructure:"engines"` // additional storage engines to enable beyond Granite
}

// Defaults returns the built-in fallback configuration (spec.md §6).
func Defaults() Config {
	return Config{
		Port:     3306,
		DataDir:  "./data",
		User:     "root",
		Password: "password",
	}
}

// FileOverrides is the shape of an optional TOML config file; any field
// left unset keeps the running default or CLI flag value.
type FileOverrides struct {
	Port     *int     `toml:"port"`
	DataDir  *string  `toml:"data_dir"`
	User     *string  `toml:"user"`
	Password *string  `toml:"password"`
	Engines  []string `toml:"engines"`
}

// Load builds a Config from defaults, an optional TOML file at
// configPath (ignored if it does not exist), and explicit CLI flag
// values layered on top via viper so flags always win over the file,
// and the file always wins over the built-in default (spec.md §6).
// flagSet carries only the flags the caller actually passed on the
// command line, keyed the same as Config's mapstructure tags, so an
// unset flag does not clobber a value the file provided.
func Load(configPath string, flagSet map[string]interface{}) (Config, error) {
	cfg := Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			var overrides FileOverrides
			if _, err := toml.DecodeFile(configPath, &overrides); err != nil {
				return Config{}, fmt.Errorf("serverconfig: parse %s: %w", configPath, err)
			}
			applyFileOverrides(&cfg, overrides)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("serverconfig: stat %s: %w", configPath, err)
		}
	}

	v := viper.New()
	v.SetDefault("port", cfg.Port)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("user", cfg.User)
	v.SetDefault("password", cfg.Password)
	v.SetDefault("engines", cfg.Engines)
	for key, val := range flagSet {
		v.Set(key, val)
	}

	cfg.Port = v.GetInt("port")
	cfg.DataDir = v.GetString("data_dir")
	cfg.User = v.GetString("user")
	cfg.Password = v.GetString("password")
	cfg.Engines = v.GetStringSlice("engines")
	return cfg, nil
}

func applyFileOverrides(cfg *Config, o FileOverrides) {
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.DataDir != nil {
		cfg.DataDir = *o.DataDir
	}
	if o.User != nil {
		cfg.User = *o.User
	}
	if o.Password != nil {
		cfg.Password = *o.Password
	}
	if len(o.Engines) > 0 {
		cfg.Engines = o.Engines
	}
}
