package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader layers config.base.yaml, config.<environment>.yaml, and
// config.<environment>.local.yaml (each optional except the base file),
// then lets environment variables (with "." replaced by "_") take
// precedence over the file value of any key the files define.
type Loader struct {
	configPath string
	viper      *viper.Viper
}

// NewLoader creates a configuration loader rooted at configPath.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return &Loader{configPath: configPath, viper: v}
}

// Load reads the layered config files for environment and unmarshals the
// result into out (a pointer to one of the *Config structs in config.go).
func (l *Loader) Load(environment string, out interface{}) error {
	if environment == "" {
		environment = os.Getenv("ENVIRONMENT")
	}
	if environment == "" {
		environment = "development"
	}

	base := filepath.Join(l.configPath, "config.base.yaml")
	if err := l.mergeFile(base); err != nil {
		return fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := filepath.Join(l.configPath, fmt.Sprintf("config.%s.yaml", environment))
	if _, err := os.Stat(envFile); err == nil {
		if err := l.mergeFile(envFile); err != nil {
			return fmt.Errorf("failed to load %s config: %w", environment, err)
		}
	}

	localFile := filepath.Join(l.configPath, fmt.Sprintf("config.%s.local.yaml", environment))
	if _, err := os.Stat(localFile); err == nil {
		if err := l.mergeFile(localFile); err != nil {
			return fmt.Errorf("failed to load local config overrides: %w", err)
		}
	}

	l.viper.Set("environment", environment)

	if err := l.viper.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func (l *Loader) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))
	l.viper.SetConfigType("yaml")
	if err := l.viper.MergeConfig(strings.NewReader(expanded)); err != nil {
		return err
	}
	return nil
}
