package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	FriendlyName     string `mapstructure:"friendly_name"`
	CastPort         int    `mapstructure:"cast_port"`
	DisplayPort      int    `mapstructure:"display_port"`
	DialPort         int    `mapstructure:"dial_port"`
	EnableDiscovery  bool   `mapstructure:"enable_discovery"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
}

func Default() *Config {
	return &Config{
		FriendlyName:    "Fauxcast",
		CastPort:        8009,
		DisplayPort:     8010,
		DialPort:        8008,
		EnableDiscovery: true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("fauxcast")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FAUXCAST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config, cfgFile string) error {
	viper.Set("friendly_name", cfg.FriendlyName)
	viper.Set("cast_port", cfg.CastPort)
	viper.Set("display_port", cfg.DisplayPort)
	viper.Set("dial_port", cfg.DialPort)
	viper.Set("enable_discovery", cfg.EnableDiscovery)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "fauxcast.yaml")
		if err := os.MkdirAll(configDir(), 0o755); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Fauxcast")
	case "darwin":
		return "/Library/Application Support/Fauxcast"
	default:
		return "/etc/fauxcast"
	}
}
