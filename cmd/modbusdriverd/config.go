// Copyright 2025 The Modbus Driver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ironspan/modbus-driver/lifecycle"
)

var (
	cfgFile string
	apiAddr string
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "settings.ini", "path to settings.ini")
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "Modbus TCP listen host")
	rootCmd.PersistentFlags().Int("port", 502, "Modbus TCP listen port")
	rootCmd.PersistentFlags().Uint8("unit-id", 0, "Modbus unit ID to answer (0 = any)")
	rootCmd.PersistentFlags().Int("holding-registers", 1000, "holding register count")
	rootCmd.PersistentFlags().Int("input-registers", 1000, "input register count")
	rootCmd.PersistentFlags().Int("coils", 1000, "coil count")
	rootCmd.PersistentFlags().Int("discrete-inputs", 1000, "discrete input count")
	rootCmd.PersistentFlags().Int("max-connections", 100, "max concurrent TCP clients")
	rootCmd.PersistentFlags().Duration("read-timeout", 30*time.Second, "client connection idle timeout")
	rootCmd.PersistentFlags().Duration("startup-timeout", 3*time.Second, "bound on how long Start waits for the listener")
	rootCmd.PersistentFlags().Duration("watchdog-poll-interval", 5*time.Second, "watchdog health check interval")
	rootCmd.PersistentFlags().Int("watchdog-max-retries", 3, "consecutive automatic restarts before the watchdog gives up")
	rootCmd.PersistentFlags().Bool("debug", false, "start with debug-level logging")
	rootCmd.PersistentFlags().String("vendor-name", "ironspan", "DEVICE vendor_name, part of the FC 0x11 ReportServerID payload")
	rootCmd.PersistentFlags().String("product-code", "MBD", "DEVICE product_code, part of the FC 0x11 ReportServerID payload")
	rootCmd.PersistentFlags().String("vendor-url", "", "DEVICE vendor_url, part of the FC 0x11 ReportServerID payload")
	rootCmd.PersistentFlags().String("product-name", "modbus-driver", "DEVICE product_name, part of the FC 0x11 ReportServerID payload")
	rootCmd.PersistentFlags().String("revision", "1.0", "DEVICE revision, part of the FC 0x11 ReportServerID payload")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", "127.0.0.1:8080", "control API listen address")

	for _, name := range []string{
		"host", "port", "unit-id", "holding-registers", "input-registers", "coils", "discrete-inputs",
		"max-connections", "read-timeout", "startup-timeout", "watchdog-poll-interval", "watchdog-max-retries",
		"debug", "vendor-name", "product-code", "vendor-url", "product-name", "revision",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func initConfig() {
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("ini")
	viper.SetEnvPrefix("MODBUSDRIVER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
	}
}

// watchConfigReload arranges for fn to run whenever the config file on
// disk changes, letting the operator edit settings.ini without restarting
// the process. Only DebugMode is applied live. The other settings are read
// once at process start; a later restart of the driver, manual or by the
// watchdog, does not re-read them.
func watchConfigReload(fn func(debug bool)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		fn(viper.GetBool("debug"))
	})
	viper.WatchConfig()
}

func settingsFromViper() lifecycle.Settings {
	s := lifecycle.DefaultSettings()
	s.Host = viper.GetString("host")
	s.Port = viper.GetInt("port")
	s.UnitID = uint8(viper.GetUint32("unit-id"))
	s.HoldingRegisters = viper.GetInt("holding-registers")
	s.InputRegisters = viper.GetInt("input-registers")
	s.Coils = viper.GetInt("coils")
	s.DiscreteInputs = viper.GetInt("discrete-inputs")
	s.MaxConnections = viper.GetInt("max-connections")
	s.ReadTimeout = viper.GetDuration("read-timeout")
	s.StartupTimeout = viper.GetDuration("startup-timeout")
	s.WatchdogPollInterval = viper.GetDuration("watchdog-poll-interval")
	s.WatchdogMaxRetries = viper.GetInt("watchdog-max-retries")
	s.DebugMode = viper.GetBool("debug")
	s.VendorName = viper.GetString("vendor-name")
	s.ProductCode = viper.GetString("product-code")
	s.VendorURL = viper.GetString("vendor-url")
	s.ProductName = viper.GetString("product-name")
	s.Revision = viper.GetString("revision")
	return s
}
