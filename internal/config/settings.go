package config

import (
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// Settings is the service-level configuration loaded from YAML. It is
// distinct from the registry document: settings describe how the process
// runs, the registry describes what it can connect to.
type Settings struct {
	Listen       string         `yaml:"listen"`
	RegistryPath string         `yaml:"registry_path"`
	Log          LogSettings    `yaml:"log"`
	Export       ExportSettings `yaml:"export"`
}

// LogSettings selects the logger level and output format.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportSettings configures the optional object-storage export target.
// Export is disabled when Endpoint is empty.
type ExportSettings struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DefaultSettings returns settings suitable for local development.
func DefaultSettings() *Settings {
	return &Settings{
		Listen:       ":8080",
		RegistryPath: "config/database_config.json",
		Log:          LogSettings{Level: "info", Format: "json"},
	}
}

// LoadSettings reads a YAML settings file. A missing file returns defaults;
// a malformed file is an error, since silently misconfiguring the service
// surface is worse than refusing to start.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to read settings file", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid settings file", err)
	}
	if settings.Listen == "" {
		settings.Listen = ":8080"
	}
	if settings.RegistryPath == "" {
		settings.RegistryPath = "config/database_config.json"
	}
	return settings, nil
}
