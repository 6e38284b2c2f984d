package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		Server: ServerConfig{
			Addr: ":8733",
		},
		Projects: ProjectsConfig{
			Root:  "./projects",
			Watch: true,
		},
		Toolchain: ToolchainConfig{
			Program:       "idf.py",
			DefaultTarget: "esp32",
			GracePeriod:   "5s",
		},
		Store: StoreConfig{
			Path:         "./fwforge.db",
			HistoryLimit: 200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Schedules: []Schedule{
			{
				Name:    "nightly",
				Project: "example-project",
				Op:      "build",
				Target:  "esp32",
				Every:   "24h",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	exampleConfig.applyDefaults()

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
