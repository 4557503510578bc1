package cmd

import (
	"github.com/spf13/cobra"
)

var listen string

// serverCmd represents the serve command
var serverCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the servo controller with its HTTP API",
	Long: `serve does everything run does and also serves a JSON API for the
servos and the status LED, for example:

  curl -X POST localhost:8080/api/servos/5/move -d '{"angle":30,"speed":40}'
  curl -X POST localhost:8080/api/indicator/flash -d '{"color":"orange","interval_ms":250}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runController(cmd.Context(), true)
	},
}

func init() {
	serverCmd.Flags().StringVar(&listen, "listen", "", "listen address, overriding the configuration file")
	rootCmd.AddCommand(serverCmd)
}
