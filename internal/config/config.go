// Package config wraps viper and is the single place configuration is
// read. Precedence, highest first: command-line flags (bound by the CLI),
// environment (DBPORT_*), project config file, defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// application startup, before any Get.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Locate dbport.yaml explicitly. Precedence:
	// project ./dbport.yaml (walking up) > ~/.config/dbport/config.yaml.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, "dbport.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "dbport", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables override the file: DBPORT_BATCH_SIZE maps to
	// batch-size, etc.
	v.SetEnvPrefix("DBPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("batch-size", 1000)
	v.SetDefault("max-retries", 3)
	v.SetDefault("parallel", 1)
	v.SetDefault("output-mode", "db")
	v.SetDefault("output-dir", "./migration_artifacts")
	v.SetDefault("routines-mode", "none")
	v.SetDefault("clean-on-failure", false)
	v.SetDefault("ddl-timeout", "30s")
	v.SetDefault("batch-timeout", "5m")

	// Fingerprint options shared by validate and fingerprint commands.
	v.SetDefault("fingerprint.sample", 0)
	v.SetDefault("fingerprint.exclude-columns", []string{})

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetInt returns an integer config value.
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

// GetDuration parses a duration config value ("30s", "5m").
func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}

// GetStringSlice returns a list config value.
func GetStringSlice(key string) []string {
	ensure()
	return v.GetStringSlice(key)
}

// Set overrides a value at runtime; a value set here wins over
// environment variables and the config file.
func Set(key string, value any) {
	ensure()
	v.Set(key, value)
}

// ConfigFileUsed reports which file viper loaded, if any.
func ConfigFileUsed() string {
	ensure()
	return v.ConfigFileUsed()
}
