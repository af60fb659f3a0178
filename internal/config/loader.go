package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration with the precedence (highest to lowest):
//
//  1. Environment variables prefixed MAILROOM_ (MAILROOM_SCAN_TIMEOUT,
//     MAILROOM_ROUTING_HIGH_THRESHOLD, ...)
//  2. YAML config file, when configPath is non-empty and the file exists
//  3. Defaults from Default()
//
// Environment variables map to config keys by stripping the prefix,
// lower-casing, and replacing the first underscore with a dot:
// MAILROOM_SCAN_TIMEOUT -> scan.timeout.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("opening config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("MAILROOM_", ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKeyTransform maps MAILROOM_SECTION_FIELD_NAME to section.field_name.
func envKeyTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "MAILROOM_"))
	return strings.Replace(key, "_", ".", 1)
}
