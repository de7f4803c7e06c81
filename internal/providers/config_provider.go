package providers

import (
	"charsync/internal/structures"
	"fmt"
	"github.com/spf13/viper"
	"path/filepath"
	"strings"
)

func NewConfigProvider(flags *structures.CliFlags) (*structures.Config, error) {
	var conf structures.Config

	filename := filepath.Base(flags.ConfigPath)
	viper.AddConfigPath(filepath.Dir(flags.ConfigPath))
	viper.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	viper.SetConfigType("yaml")

	viper.BindEnv("device.name", "CHARSYNC_DEVICE_NAME")
	viper.BindEnv("logger.level", "CHARSYNC_LOG_LEVEL")
	viper.BindEnv("transport.driver", "CHARSYNC_TRANSPORT")
	viper.BindEnv("transport.listenAddr", "CHARSYNC_LISTEN_ADDR")
	viper.BindEnv("storage.driver", "CHARSYNC_STORAGE")
	viper.BindEnv("storage.filePath", "CHARSYNC_STORAGE_PATH")
	viper.BindEnv("cache.enabled", "CHARSYNC_CACHE_ENABLED")
	viper.BindEnv("metrics.enabled", "CHARSYNC_METRICS_ENABLED")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	err = viper.Unmarshal(&conf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	cnfValidator := NewCnfValidator(&conf)
	err = cnfValidator.Validate()
	if err != nil {
		return nil, err
	}

	conf.Sync = conf.Sync.WithDefaults()
	conf.AppName = "CharSync"
	conf.Path = flags.ConfigPath
	conf.Debug = flags.DebugMode

	return &conf, nil
}
