// Package config loads player settings with viper and sets up the default
// slog logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
	"github.com/cbegin/chipdispatch-go/internal/platform"
)

// EnvPrefix is prepended to every environment override, e.g.
// CHIPDISPATCH_SAMPLERATE=48000.
const EnvPrefix = "CHIPDISPATCH"

// System is one chip slot in the settings file.
type System struct {
	Name   string            `mapstructure:"name"`
	Flags  map[string]string `mapstructure:"flags"`
	Volume float64           `mapstructure:"volume"`
	Pan    float64           `mapstructure:"pan"`
}

// ID resolves the system name.
func (s System) ID() (platform.SystemID, error) {
	return platform.ParseSystem(strings.ToLower(strings.TrimSpace(s.Name)))
}

// Config converts the flag table to a chip configuration.
func (s System) Config() dispatch.Config {
	return dispatch.ConfigFromMap(s.Flags)
}

type Settings struct {
	SampleRate int      `mapstructure:"samplerate"`
	TickRate   float64  `mapstructure:"tickrate"`
	BlockSize  int      `mapstructure:"blocksize"`
	LowQuality bool     `mapstructure:"lowquality"`
	BufferMS   int      `mapstructure:"buffer_ms"`
	Format     string   `mapstructure:"format"`
	ExportRate int      `mapstructure:"exportrate"`
	LogLevel   string   `mapstructure:"loglevel"`
	LogFile    string   `mapstructure:"logfile"`
	Systems    []System `mapstructure:"systems"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("samplerate", 48000)
	v.SetDefault("tickrate", 60)
	v.SetDefault("blocksize", 1024)
	v.SetDefault("lowquality", false)
	v.SetDefault("buffer_ms", 100)
	v.SetDefault("format", "f32")
	v.SetDefault("exportrate", 0)
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("systems", []map[string]any{
		{"name": "nes", "volume": 0.8, "pan": 0},
		{"name": "psg", "volume": 0.6, "pan": 0, "flags": map[string]string{"stereo": "true"}},
	})
}

// Load reads settings from path, then from CHIPDISPATCH_* environment
// variables. A missing file leaves the defaults in place; an empty path skips
// the file entirely.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist) {
				slog.Info("no config file found", "configFilePath", path)
			} else {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks ranges and that every system name is known.
func (s *Settings) Validate() error {
	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		return fmt.Errorf("samplerate %d out of range", s.SampleRate)
	}
	if s.TickRate <= 0 {
		return fmt.Errorf("tickrate %v must be positive", s.TickRate)
	}
	if s.ExportRate < 0 {
		return fmt.Errorf("exportrate %d must not be negative", s.ExportRate)
	}
	switch s.Format {
	case "f32", "s16":
	default:
		return fmt.Errorf("format %q: want f32 or s16", s.Format)
	}
	for i, sys := range s.Systems {
		if _, err := sys.ID(); err != nil {
			return fmt.Errorf("systems[%d]: %w", i, err)
		}
		if sys.Pan < -1 || sys.Pan > 1 {
			return fmt.Errorf("systems[%d]: pan %v out of range", i, sys.Pan)
		}
	}
	return nil
}
