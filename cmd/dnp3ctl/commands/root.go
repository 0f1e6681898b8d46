// Package commands implements the dnp3ctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient talks to the dnp3master control API, initialized in PersistentPreRunE.
	httpClient *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's control API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for dnp3ctl.
var rootCmd = &cobra.Command{
	Use:   "dnp3ctl",
	Short: "CLI client for the dnp3master daemon",
	Long:  "dnp3ctl talks to the dnp3master daemon's control API to manage associations and tasks.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = newAPIClient("http://"+serverAddr, &http.Client{Timeout: 10 * time.Second})
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:20000",
		"dnp3master control API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(associationCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
