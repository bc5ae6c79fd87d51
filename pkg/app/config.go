package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autopeer-io/mavbridge/pkg/log"
)

// loadConfig layers the config file and environment under the explicitly set
// flags and decodes the result into the options. Keys follow the flag names,
// so --mqtt.broker, mqtt.broker in a file and MAVBRIDGE_MQTT_BROKER in the
// environment all address the same field.
func (a *App) loadConfig(cmd *cobra.Command) error {
	v := a.viper

	if !a.noConfig {
		if a.cfgFile != "" {
			v.SetConfigFile(a.cfgFile)
		} else {
			v.SetConfigName(a.configName)
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
			if home, err := os.UserHomeDir(); err == nil {
				v.AddConfigPath(filepath.Join(home, "."+a.configName))
			}
			v.AddConfigPath(filepath.Join("/etc", a.configName))
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			// Only an explicitly requested file has to exist.
			if a.cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("failed to read configuration file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix(a.configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

func (a *App) watchConfig() {
	a.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Info("Configuration file changed", "file", e.Name, "op", e.Op.String())
		a.watcher(a.viper)
	})
	a.viper.WatchConfig()
	log.Info("Watching configuration file", "file", a.viper.ConfigFileUsed())
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
