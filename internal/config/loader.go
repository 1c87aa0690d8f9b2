package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/vizloop/internal/provider"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VIZLOOP_"

	maxConfigFileSize = 1024 * 1024
)

// LoadWithFile loads configuration.
//
// Precedence, highest first:
//  1. VIZLOOP_ environment variables (VIZLOOP_RUN_MAX_ITERATIONS -> run.max_iterations)
//  2. the YAML file at configPath, when configPath is not empty
//  3. Default()
//
// The provider API key falls back to ANTHROPIC_API_KEY or OPENAI_API_KEY
// when neither the file nor VIZLOOP_PROVIDER_API_KEY sets it.
//
// Files larger than 1MB, or writable by everyone, are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps VIZLOOP_SECTION_FIELD_NAME to section.field_name. Only the
// first underscore after the prefix separates the section.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + field
}

// readConfigFile opens the file once and checks the open descriptor so the
// checked file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config path is not a regular file")
	}
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills values that an override may have zeroed and resolves
// the provider key from the vendor environment variables.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Run.OutputDir == "" {
		cfg.Run.OutputDir = d.Run.OutputDir
	}
	if cfg.Approval.Timeout <= 0 {
		cfg.Approval.Timeout = d.Approval.Timeout
	}
	if cfg.Approval.TimeoutDecision == "" {
		cfg.Approval.TimeoutDecision = d.Approval.TimeoutDecision
	}
	if cfg.Approval.MaxAutoRisk == "" {
		cfg.Approval.MaxAutoRisk = d.Approval.MaxAutoRisk
	}
	if cfg.Verify.Timeout <= 0 {
		cfg.Verify.Timeout = d.Verify.Timeout
	}
	if cfg.Backend.StartupTimeout <= 0 {
		cfg.Backend.StartupTimeout = d.Backend.StartupTimeout
	}
	if cfg.Backend.GracePeriod <= 0 {
		cfg.Backend.GracePeriod = d.Backend.GracePeriod
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = d.Events.SubjectPrefix
	}
	cfg.Retry.ApplyDefaults()

	if cfg.Provider.APIKey == "" {
		switch cfg.Provider.Name {
		case provider.OpenAI:
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}
