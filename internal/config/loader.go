package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"devstack/pkg/logging"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/devstack"
	projectConfigDir = ".devstack"
	configFileName   = "config.yaml"
	defaultStateDir  = ".local/share/devstack"
)

// ErrInvalid wraps every error caused by a configuration file.
var ErrInvalid = errors.New("invalid devstack configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig loads the devstack configuration by layering default, user, and project settings.
func LoadConfig() (DevstackConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. Determine user-specific configuration path
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userConfig, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return DevstackConfig{}, fmt.Errorf("%w: loading user config from %s: %w", ErrInvalid, userConfigPath, err)
			}
			config = mergeConfigs(config, userConfig)
		}
	}

	// 3. Determine project-specific configuration path
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectConfig, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return DevstackConfig{}, fmt.Errorf("%w: loading project config from %s: %w", ErrInvalid, projectConfigPath, err)
			}
			config = mergeConfigs(config, projectConfig)
		}
	}

	if err := validate.Struct(config); err != nil {
		return DevstackConfig{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if config.StateDir == "" {
		homeDir, err := osUserHomeDir()
		if err != nil {
			return DevstackConfig{}, fmt.Errorf("cannot resolve state directory: %w", err)
		}
		config.StateDir = filepath.Join(homeDir, defaultStateDir)
	} else {
		config.StateDir = expandHome(config.StateDir)
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a DevstackConfig from a YAML file.
func loadConfigFromFile(filePath string) (DevstackConfig, error) {
	var config DevstackConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return DevstackConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return DevstackConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
// Scalar fields are only overridden when set in the overlay.
func mergeConfigs(base, overlay DevstackConfig) DevstackConfig {
	merged := base

	if overlay.Runtime != "" {
		merged.Runtime = overlay.Runtime
	}
	if overlay.StateDir != "" {
		merged.StateDir = overlay.StateDir
	}
	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.MetricsTextfile != "" {
		merged.MetricsTextfile = overlay.MetricsTextfile
	}

	// Reconcile settings
	if overlay.Reconcile.MaxRetries != nil {
		retries := *overlay.Reconcile.MaxRetries
		merged.Reconcile.MaxRetries = &retries
	}
	if overlay.Reconcile.RetryDelay != 0 {
		merged.Reconcile.RetryDelay = overlay.Reconcile.RetryDelay
	}
	if overlay.Reconcile.ActionTimeout != 0 {
		merged.Reconcile.ActionTimeout = overlay.Reconcile.ActionTimeout
	}
	if overlay.Reconcile.MaxParallel != 0 {
		merged.Reconcile.MaxParallel = overlay.Reconcile.MaxParallel
	}

	// Merge policy
	if overlay.Merge.Ports != "" {
		merged.Merge.Ports = overlay.Merge.Ports
	}
	if overlay.Merge.Volumes != "" {
		merged.Merge.Volumes = overlay.Merge.Volumes
	}

	// Image overrides are merged per kind, overlay wins
	images := make(map[string]string, len(base.Images)+len(overlay.Images))
	for kind, image := range base.Images {
		images[kind] = image
	}
	for kind, image := range overlay.Images {
		images[kind] = image
	}
	merged.Images = images

	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	homeDir, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
