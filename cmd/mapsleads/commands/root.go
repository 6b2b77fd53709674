// Package commands implements the CLI commands for mapsleads.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mapsleads/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mapsleads",
	Short: "Collect business leads from map directory searches",
	Long: `mapsleads walks the results feed of a map search, extracts one record
per business, drops duplicates and looks up a contact email on each
business website.

Examples:
  # Twenty cafes in Madrid as JSON
  mapsleads search "cafes" --locality Madrid --limit 20

  # CSV file plus a SQLite database
  mapsleads search "dentists" -l "Valencia" -n 100 --format csv -o dentists.csv \
      --sink sqlite:///var/lib/mapsleads/leads.db

  # Every term from a file across one city
  mapsleads batch --terms terms.txt --locality Sevilla --out-dir ./leads

  # HTTP API
  mapsleads serve --addr :8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Bound at run time so commands sharing a flag name do not
		// overwrite each other's binding.
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		initLogger()
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.mapsleads.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().Bool("json-logs", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// .env values are visible to AutomaticEnv; real environment wins.
	_ = godotenv.Load()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".mapsleads")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("MAPSLEADS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

// initLogger applies the global logging flags.
func initLogger() {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("json-logs"),
	})
	if f := viper.ConfigFileUsed(); f != "" {
		logger.Debug("config file loaded", "path", f)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// logInfo prints a progress message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
