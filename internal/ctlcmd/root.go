// Package ctlcmd provides the canvasguardctl CLI commands: one
// subcommand per session lifecycle verb, each a thin HTTP client call
// against a running canvasguardd daemon.
package ctlcmd

import (
	"github.com/spf13/cobra"
)

// Version is the canvasguardctl version string, set at build time.
var Version = "dev"

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:     "canvasguardctl",
	Short:   "Operator CLI for the canvas repair coordinator daemon",
	Version: Version,
	Long: `canvasguardctl drives a running canvasguardd daemon's session
lifecycle: create projects/sessions and start, pause, stop, or
single-step a repair session.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", "http://localhost:8080", "canvasguardd daemon base URL")
}

// Execute runs the root command and returns an exit code. The caller
// (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
