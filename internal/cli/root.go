// Package cli provides the command-line interface for the observer server.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/observer/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "observer",
	Short: "Capture webcam frames and ask a vision model about them",
	Long: `observer talks to a running observer server.

Capture frames from the server's camera or upload image files, send the
most recent captures to the vision model with a prompt, and manage the
stored captures and responses.

The server address comes from --server, OBSERVER_SERVER_URL, or defaults
to http://localhost:5001.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server URL (default $OBSERVER_SERVER_URL or "+client.DefaultServerURL+")")

	// Add subcommands
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(capturesCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(deleteImageCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(responsesCmd)
	rootCmd.AddCommand(deleteResponseCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(statsCmd)
}
