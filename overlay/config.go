package overlay

import (
	"runtime"

	"github.com/rotisserie/eris"
)

// Config is the full changemesh configuration.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt" mapstructure:"mqtt"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Render   RenderConfig   `yaml:"render" mapstructure:"render"`
}

// AnalysisConfig holds the engine parameters.
type AnalysisConfig struct {
	Attribute         string  `yaml:"attribute,omitempty" mapstructure:"attribute"`
	SliverThreshold   float64 `yaml:"sliver_threshold" mapstructure:"sliver_threshold"`
	MaxDistinctValues int     `yaml:"max_distinct_values" mapstructure:"max_distinct_values"`
	AreaMode          string  `yaml:"area_mode" mapstructure:"area_mode"`
	Equality          string  `yaml:"equality" mapstructure:"equality"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port      int `yaml:"port" mapstructure:"port"`
	MaxBodyMB int `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	// MaxResults bounds how many analyses the server keeps in memory.
	MaxResults int `yaml:"max_results" mapstructure:"max_results"`
}

// MQTTConfig holds broker connection settings. An empty Broker disables
// publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" mapstructure:"broker"`
	ClientID      string `yaml:"client_id,omitempty" mapstructure:"client_id"`
	PublishPrefix string `yaml:"publish_prefix" mapstructure:"publish_prefix"`
	Username      string `yaml:"username,omitempty" mapstructure:"username"`
	Password      string `yaml:"password,omitempty" mapstructure:"password"`
}

// StoreConfig configures result persistence. An empty SQLitePath disables
// it.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path,omitempty" mapstructure:"sqlite_path"`
}

// RenderConfig configures the static change map.
type RenderConfig struct {
	WidthPx int     `yaml:"width_px" mapstructure:"width_px"`
	Padding float64 `yaml:"padding" mapstructure:"padding"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			SliverThreshold:   DefaultSliverThreshold,
			MaxDistinctValues: DefaultMaxDistinctValues,
			AreaMode:          string(AreaGeodesic),
			Equality:          string(EqualityStrict),
			Workers:           runtime.NumCPU(),
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{Port: 8080, MaxBodyMB: 64, MaxResults: DefaultRegistrySize},
		MQTT:   MQTTConfig{PublishPrefix: "changemesh"},
		Render: RenderConfig{WidthPx: 1200, Padding: 0.05},
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	a := c.Analysis
	if a.SliverThreshold <= 0 {
		return eris.Errorf("analysis.sliver_threshold must be positive, got %g", a.SliverThreshold)
	}
	if a.MaxDistinctValues <= 0 {
		return eris.Errorf("analysis.max_distinct_values must be positive, got %d", a.MaxDistinctValues)
	}
	switch AreaMode(a.AreaMode) {
	case AreaGeodesic, AreaPlanar:
	default:
		return eris.Errorf("analysis.area_mode must be geodesic or planar, got %q", a.AreaMode)
	}
	switch EqualityMode(a.Equality) {
	case EqualityStrict, EqualityString:
	default:
		return eris.Errorf("analysis.equality must be strict or string, got %q", a.Equality)
	}
	if a.Workers < 0 {
		return eris.Errorf("analysis.workers must not be negative, got %d", a.Workers)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxBodyMB <= 0 {
		return eris.Errorf("server.max_body_mb must be positive, got %d", c.Server.MaxBodyMB)
	}
	if c.Render.WidthPx <= 0 {
		return eris.Errorf("render.width_px must be positive, got %d", c.Render.WidthPx)
	}
	if c.Render.Padding < 0 || c.Render.Padding >= 0.5 {
		return eris.Errorf("render.padding must be in [0, 0.5), got %g", c.Render.Padding)
	}
	return nil
}

// Options converts the analysis section to engine options. attribute
// overrides the configured attribute when non-empty.
func (c *Config) Options(attribute string) Options {
	if attribute == "" {
		attribute = c.Analysis.Attribute
	}
	return Options{
		Attribute:         attribute,
		SliverThreshold:   c.Analysis.SliverThreshold,
		MaxDistinctValues: c.Analysis.MaxDistinctValues,
		AreaMode:          AreaMode(c.Analysis.AreaMode),
		Equality:          EqualityMode(c.Analysis.Equality),
		Workers:           c.Analysis.Workers,
	}
}
