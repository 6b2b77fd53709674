package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/mapsleads/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		asJSON, _ := cmd.Flags().GetBool("json")

		switch {
		case asJSON:
			data, err := json.MarshalIndent(version.Get(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		case full:
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "mapsleads "+version.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("full", false, "print build details")
	versionCmd.Flags().Bool("json", false, "print build details as JSON")
}
