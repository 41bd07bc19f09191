package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	internal "github.com/imagedex/imagedex/imagedex"
	"github.com/imagedex/imagedex/imagedex/hashing"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Imagedex ImagedexConfig `mapstructure:"imagedex"`
}

// ImagedexConfig stores the indexing and query defaults.
type ImagedexConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	Threshold     int    `mapstructure:"threshold"`
	PoolSize      int    `mapstructure:"poolSize"`
	IndexFileName string `mapstructure:"indexFileName"`
	RenameLayout  string `mapstructure:"renameLayout"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("imagedex.algorithm", string(hashing.Perceptual))
	viper.SetDefault("imagedex.threshold", 5)
	viper.SetDefault("imagedex.poolSize", runtime.NumCPU())
	viper.SetDefault("imagedex.indexFileName", internal.DefaultIndexFileName)
	viper.SetDefault("imagedex.renameLayout", "20060102_150405")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // imagedex.poolSize becomes IMAGEDEX_POOLSIZE

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if _, err := hashing.ParseAlgorithm(AppConfig.Imagedex.Algorithm); err != nil {
		return nil, err
	}
	if AppConfig.Imagedex.Threshold < 0 || AppConfig.Imagedex.Threshold > hashing.MaxDistance {
		return nil, fmt.Errorf("threshold %d out of range [0, %d]", AppConfig.Imagedex.Threshold, hashing.MaxDistance)
	}

	return &AppConfig, nil
}
