// Package config loads CLI configuration from files and the environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the application configuration.
type Config struct {
	MigrationsDir string
	DatabaseURL   string
	Provider      string
}

// LoadConfig loads configuration from schemakit.yaml, environment
// variables (SCHEMAKIT_*), and .env files.
func LoadConfig() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName("schemakit")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(filepath.Join(home, ".config", "schemakit"))

	viper.SetEnvPrefix("SCHEMAKIT")
	viper.AutomaticEnv()

	viper.SetDefault("migrations_dir", "migrations")

	// Missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()

	// .env then .env.local, the latter winning.
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	cfg := &Config{
		MigrationsDir: viper.GetString("migrations_dir"),
		DatabaseURL:   databaseURL,
		Provider:      viper.GetString("provider"),
	}
	return cfg, nil
}

// SaveConfig writes the configuration to schemakit.yaml in the working
// directory.
func SaveConfig(cfg *Config) error {
	viper.Set("migrations_dir", cfg.MigrationsDir)
	if cfg.Provider != "" {
		viper.Set("provider", cfg.Provider)
	}
	return viper.WriteConfigAs("schemakit.yaml")
}
