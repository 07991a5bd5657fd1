package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layer-3/gatekeeper/config"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Multi-method authentication broker",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var envFile string
var Config *config.Config

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")

	initConfig()

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	viper.BindPFlag(config.Debug, rootCmd.PersistentFlags().Lookup(config.Debug)) //nolint:errcheck

	// setup sub commands
	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())
}

func initConfigIfPresent() {
	config.LoadEnv(context.Background(), envFile)

	if configFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", configFile)
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			panic(err)
		}
	}
	Config = config.FromViper(viper.GetViper())
}

func main() {
	Execute()
}
