package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "emarelay",
	Short: "emarelay drives assistant turns through the relay event core",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// flags are parsed by now, so --log-level and co are visible
		initLogger()
	},
	SilenceUsage: true,
}

func initLogger() {
	level := viper.GetString("log-level")
	if viper.GetBool("verbose") {
		level = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      level,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("emarelay")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.emarelay")

		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(xdgConfigPath + "/emarelay")
		}
	}

	err := viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, flags and environment only
	} else if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	initLogger()
	slog.Debug("loaded configuration", "config", viper.ConfigFileUsed())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./config.yaml or ~/.emarelay/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	// --config has to be known before the flags are parsed
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" && len(os.Args) > idx+1 {
			configFile = os.Args[idx+1]
		}
	}

	if err := initCommands(rootCmd, configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.AddCommand(newReplayCommand(), newChatCommand(), newSchemaCommand())
}
