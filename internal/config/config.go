// Package config loads process configuration for btsinkd from flags,
// environment variables, and an optional config file, using viper.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds everything the core subsystems need at startup.
type Config struct {
	// USBVendorID and USBProductID select the controller's USB interface.
	USBVendorID  uint16 `mapstructure:"usb_vendor_id"`
	USBProductID uint16 `mapstructure:"usb_product_id"`

	// CommandQuota bounds outstanding HCI commands in flight (spec default 1).
	CommandQuota int `mapstructure:"command_quota"`

	// LinkKeyStorePath is the persisted RemoteAddress -> LinkKey mapping file.
	LinkKeyStorePath string `mapstructure:"link_key_store_path"`

	// PINCode is echoed back verbatim on PINCodeRequest (non-goal: real pairing).
	PINCode string `mapstructure:"pin_code"`

	// BtsnoopPath, if non-empty, enables btsnoop capture to this file.
	BtsnoopPath string `mapstructure:"btsnoop_path"`

	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"log_level"`
}

// Default returns the configuration's zero-value-safe defaults.
func Default() Config {
	return Config{
		USBVendorID:      0x0a12,
		USBProductID:     0x0001,
		CommandQuota:     1,
		LinkKeyStorePath: "linkkeys.db",
		PINCode:          "0000",
		LogLevel:         "info",
	}
}

// Load reads configuration from optional config file at path (if non-empty),
// then environment variables prefixed BTSINKD_, layered over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("btsinkd")
	v.AutomaticEnv()
	v.SetDefault("usb_vendor_id", cfg.USBVendorID)
	v.SetDefault("usb_product_id", cfg.USBProductID)
	v.SetDefault("command_quota", cfg.CommandQuota)
	v.SetDefault("link_key_store_path", cfg.LinkKeyStorePath)
	v.SetDefault("pin_code", cfg.PINCode)
	v.SetDefault("btsnoop_path", cfg.BtsnoopPath)
	v.SetDefault("log_level", cfg.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
