// Package conf loads the library configuration from files and the
// environment.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/quantrail/tenantdb/internal/log"
	"github.com/quantrail/tenantdb/pool"
)

// Config is the top-level configuration.
type Config struct {
	DB  pool.Config `conf:"db" yaml:"db" json:"db"`
	Log log.Config  `conf:"log" yaml:"log" json:"log"`
}

// defaults registers every known key. Registration matters beyond the
// values: viper only applies environment overrides to keys it knows about.
func defaults(v *viper.Viper) {
	v.SetDefault("db.dialect", "sqlite")
	v.SetDefault("db.dsn", "file:tenantdb.db?_pragma=busy_timeout(5000)")
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads tenantdb.{yaml,json,toml} from the working directory, then
// applies TENANTDB_* environment overrides (e.g. TENANTDB_DB_DSN). A missing
// config file is not an error; the defaults stand.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("tenantdb")
	v.AddConfigPath(".")

	return load(v, false)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v, true)
}

func load(v *viper.Viper, required bool) (Config, error) {
	v.SetEnvPrefix("TENANTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if required || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("conf: failed to read config: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
	})
	if err != nil {
		return Config{}, fmt.Errorf("conf: failed to decode config: %w", err)
	}

	return cfg, nil
}
