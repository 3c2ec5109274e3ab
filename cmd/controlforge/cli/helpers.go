package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/controlforge/controlforge/internal/config"
)

// openConfigStore opens the credential store using the --data-dir flag,
// viper settings, or the default location, in that order.
func openConfigStore() (*config.Store, error) {
	cfg := config.StoreConfig{
		Driver: viper.GetString("store.driver"),
		DSN:    viper.GetString("store.dsn"),
	}

	if cfg.Driver == "" || cfg.Driver == "sqlite" {
		dir := dataDir
		if dir == "" {
			dir = viper.GetString("store.data_dir")
		}
		if dir == "" {
			home, _ := os.UserHomeDir()
			dir = filepath.Join(home, ".controlforge")
		}
		cfg.DataDir = dir
	}

	return config.NewStore(cfg)
}
