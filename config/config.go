package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, read from a viper config file with
// environment overrides.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int64  `mapstructure:"port"`
	} `mapstructure:"server"`

	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Email struct {
		Endpoint     string `mapstructure:"endpoint"`
		APIKey       string `mapstructure:"api_key"`
		TemplateName string `mapstructure:"template_name"`
	} `mapstructure:"email"`

	Auth struct {
		JwtSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Vault struct {
		TotalShares    int   `mapstructure:"total_shares"`
		Threshold      int   `mapstructure:"threshold"`
		OwnerShares    int   `mapstructure:"owner_shares"`
		TimelockHours  int64 `mapstructure:"timelock_hours"`
		ExpirationDays int64 `mapstructure:"expiration_days"`
		CooldownHours  int64 `mapstructure:"cooldown_hours"`
	} `mapstructure:"vault"`
}

// ReadConfig loads the named config file from the working directory,
// applying environment variable overrides.
func ReadConfig(name string) (Config, error) {
	viper.SetConfigName(name)
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("fail to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("fail to unmarshal config: %w", err)
	}
	return cfg, nil
}
