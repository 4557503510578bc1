package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Power on the servos and handle the centre button",
	Long: `run enables the PWM outputs, centres every servo, turns the status LED
green and then waits for the centre button until interrupted.

A short press centres every servo. Holding the button for more than two
seconds stops all motion and disables the outputs, and the LED flashes red
until the next long press.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runController(cmd.Context(), false)
	},
}

func runController(parent context.Context, serve bool) (err error) {
	c, logger, err := newController()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
		_ = logger.Sync()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case s := <-sigs:
			logger.Infow("shutting down", "signal", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	err = c.Run(ctx, serve)
	logger.Info("servobit command finished")
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)
}
