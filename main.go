// Package main provides the entry point for the ttscache CLI and server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/ttscache/internal/config"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	debug             bool

	// cfg is resolved before any subcommand runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "ttscache",
		Short: "Text-to-speech with a content-addressed audio cache",
		Long: paragraph(
			fmt.Sprintf("\nSynthesize speech %s. Identical requests are produced once, stored on disk and served from the cache afterwards. Google Cloud Text-to-Speech is used online, Piper offline.", keyword("once")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}
)

// loadConfig resolves cfg from the config file, flags and environment and
// configures logging.
func loadConfig(cmd *cobra.Command) error {
	// these must work with a broken config file
	switch {
	case cmd.Name() == "config", cmd.Name() == "man":
		return nil
	case cmd.HasParent() && cmd.Parent().Name() == "completion":
		return nil
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cacheDisabledByFlag(cmd)

	if cmd.Name() == "serve" {
		useStderrLog()
	}
	if err := configureLog(cfg, debug); err != nil {
		return err
	}
	plainOutput()

	log.Debug("Configuration loaded", "file", viper.ConfigFileUsed(), "audio_dir", cfg.AudioDir, "engine", cfg.DefaultEngine)
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("audio-dir", "", "directory audio is stored in")
	rootCmd.PersistentFlags().Bool("no-cache", false, "always synthesize, never serve from the cache")

	_ = viper.BindPFlag("audio_dir", rootCmd.PersistentFlags().Lookup("audio-dir"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd, synthCmd, voicesCmd, cacheCmd, doctorCmd, configCmd, manCmd)
}

// cacheDisabledByFlag applies --no-cache, which viper cannot bind because
// it inverts cache.enabled.
func cacheDisabledByFlag(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("no-cache"); f != nil && f.Changed && f.Value.String() == "true" {
		cfg.CacheEnabled = false
	}
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, config.AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, config.AppName)}, dirs...)
	}

	if c := os.Getenv("TTSCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], config.AppName+".yml")
	if err := ensureConfigFile(defaultConfigFile); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
