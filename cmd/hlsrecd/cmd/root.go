// Package cmd implements the hlsrecd command line.
package cmd

import (
	"context"
	"fmt"
	"hlsrecd/internal/config"
	"hlsrecd/internal/fetch"
	"hlsrecd/internal/hls"
	"hlsrecd/internal/key"
	"hlsrecd/internal/logger"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()

	// Set by PersistentPreRunE.
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hlsrecd",
	Short: "HLS manifest parser and live playlist recorder",
	Long: `hlsrecd parses HLS multivariant and media playlists into a normalized
segment model and follows live playlists across reloads, emitting only new
segments and renumbering them when the server resets its media sequence.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadWith(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		log = logger.NewWithWriter(cfg.Log.Level, cfg.Log.Format, os.Stderr).With("app", "hlsrecd")
		return nil
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hlsrecd.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}

// openSource fetches the source manifest and wires the extractor for it:
// the fetch client, static keys and parser settings.
func openSource(ctx context.Context, source string) (*hls.Extractor, string, error) {
	client := fetch.NewClient(cfg.FetchOptions(), log)

	pc := cfg.ToParserConfig(source)
	text, finalURL, err := client.FetchText(ctx, source, pc.Headers)
	if err != nil {
		return nil, "", err
	}
	if finalURL != source {
		log.Debugf("%s => %s", source, finalURL)
	}
	pc.URL = finalURL

	keys, err := key.NewService(cfg.KeyPairs)
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize key service: %w", err)
	}
	pc.KeyProcessors = []hls.KeyProcessor{&hls.DefaultKeyProcessor{Fetcher: client}}
	if keys.Len() > 0 {
		pc.KeyProcessors = append([]hls.KeyProcessor{keys}, pc.KeyProcessors...)
	}
	return hls.NewExtractor(pc, client, log), text, nil
}
