package config

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. SURRONLOG_SCAN_WINDOW=5s
const EnvPrefix = "SURRONLOG"

// flagKeys maps persistent CLI flags onto configuration keys
var flagKeys = map[string]string{
	"log-level": "log_level",
	"log-file":  "log_file",
}

// Load builds the effective configuration: defaults, then the optional YAML file at
// path, then SURRONLOG_* environment variables, then explicitly set flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	base, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to render default config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MarshalYAML renders durations in their human form ("3s" instead of nanoseconds)
func (c Config) MarshalYAML() (any, error) {
	return toYAMLMap(reflect.ValueOf(c)), nil
}

func toYAMLMap(v reflect.Value) map[string]any {
	out := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		key := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}

		fv := v.Field(i)
		switch {
		case field.Type == reflect.TypeOf(time.Duration(0)):
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			out[key] = toYAMLMap(fv)
		default:
			out[key] = fv.Interface()
		}
	}

	return out
}
