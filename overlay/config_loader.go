package overlay

import (
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ConfigName is the config file looked up in the working directory when no
// explicit path is given.
const ConfigName = "changemesh"

// EnvPrefix prefixes environment overrides, e.g. CHANGEMESH_MQTT_BROKER.
const EnvPrefix = "CHANGEMESH"

// LoadConfig reads configuration from path, or from ./changemesh.yaml when
// path is empty, layered over defaults and CHANGEMESH_* environment
// variables. A missing default file is not an error; a missing explicit
// file is.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, eris.Errorf("config: file not found: %s", path)
			}
			return nil, eris.Wrap(err, "config: stat file")
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("analysis.attribute", d.Analysis.Attribute)
	v.SetDefault("analysis.sliver_threshold", d.Analysis.SliverThreshold)
	v.SetDefault("analysis.max_distinct_values", d.Analysis.MaxDistinctValues)
	v.SetDefault("analysis.area_mode", d.Analysis.AreaMode)
	v.SetDefault("analysis.equality", d.Analysis.Equality)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_body_mb", d.Server.MaxBodyMB)
	v.SetDefault("server.max_results", d.Server.MaxResults)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.publish_prefix", d.MQTT.PublishPrefix)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("render.width_px", d.Render.WidthPx)
	v.SetDefault("render.padding", d.Render.Padding)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "config: marshal yaml")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return eris.Wrap(err, "config: write file")
	}
	return nil
}

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(lvl)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
