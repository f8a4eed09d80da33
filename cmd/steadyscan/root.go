package main

import (
	"github.com/spf13/cobra"

	"github.com/ayusman/steadyscan/internal/config"
	"github.com/ayusman/steadyscan/internal/logging"
)

var (
	cfgFile string
	// v holds defaults, environment overrides and bound flags. The config
	// file is merged in by loadConfig.
	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "steadyscan",
	Short: "Stable barcode and QR code tracking from a camera feed.",
	Long: `steadyscan detects barcodes and QR codes in a camera feed and gives each
physical code a stable identity. Codes missed for a frame or two keep their
identity; a code is reported gone only after it has been out of view for the
deletion delay.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.steadyscan.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("db", "", "sighting ledger path (default <data_dir>/steadyscan.db)")
	cobra.CheckErr(v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))
	cobra.CheckErr(v.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db")))

	rootCmd.AddCommand(runCmd, replayCmd, sightingsCmd)
}

// loadConfig merges the config file into v and configures logging from the
// result.
func loadConfig() (*config.Config, error) {
	logging.Init(v.GetString("log_level"))
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)
	return cfg, nil
}
