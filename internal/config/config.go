package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode             string `mapstructure:"mode"`
	StatusPort       int    `mapstructure:"status_port"`
	APIBaseURL       string `mapstructure:"api_base_url"`
	APIToken         string `mapstructure:"api_token"`
	DisplayName      string `mapstructure:"display_name"`
	DevicePrefsPath  string `mapstructure:"device_prefs_path"`
	ConsumerReplicas int    `mapstructure:"consumer_replicas"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("status_port", 8087)
	v.SetDefault("api_base_url", "http://localhost:4000/api")
	v.SetDefault("display_name", "guest")
	v.SetDefault("device_prefs_path", "callkit.db")
	v.SetDefault("consumer_replicas", 0)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
