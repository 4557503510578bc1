package cmd

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Seann-Moser/servobit/pkg/controller"
	"github.com/Seann-Moser/servobit/pkg/errcode"
	"github.com/Seann-Moser/servobit/pkg/indicator"
)

var (
	flashInterval time.Duration
	flashFor      time.Duration
)

var ledCmd = &cobra.Command{
	Use:   "led",
	Short: "Control the status LED",
}

var ledColorCmd = &cobra.Command{
	Use:   "color <name|#rrggbb>",
	Short: "Show a colour",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		rgb, err := indicator.ParseColor(args[0])
		if err != nil {
			return err
		}
		if err := c.Indicator.SetColor(rgb); err != nil {
			return err
		}
		return printJSON(cmd, c.Indicator.Snapshot())
	}),
}

var ledClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Turn the LED off",
	Args:  cobra.NoArgs,
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		if err := c.Indicator.Clear(); err != nil {
			return err
		}
		return printJSON(cmd, c.Indicator.Snapshot())
	}),
}

var ledBrightnessCmd = &cobra.Command{
	Use:   "brightness <0-255>",
	Short: "Set the LED brightness",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		level, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return errors.Wrapf(errcode.InvalidParams, "brightness %q", args[0])
		}
		if err := c.Indicator.SetBrightness(uint8(level)); err != nil {
			return err
		}
		return printJSON(cmd, c.Indicator.Snapshot())
	}),
}

var ledFlashCmd = &cobra.Command{
	Use:   "flash <name|#rrggbb>",
	Short: "Flash a colour until interrupted or --for elapses",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		rgb, err := indicator.ParseColor(args[0])
		if err != nil {
			return err
		}
		c.Indicator.StartFlash(rgb, flashInterval)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		var timeout <-chan time.Time
		if flashFor > 0 {
			timeout = time.After(flashFor)
		}
		select {
		case <-sigs:
		case <-timeout:
		case <-cmd.Context().Done():
		}
		return c.Indicator.Clear()
	}),
}

func init() {
	ledFlashCmd.Flags().DurationVar(&flashInterval, "interval", 500*time.Millisecond, "time on and time off, 1ms to 10s")
	ledFlashCmd.Flags().DurationVar(&flashFor, "for", 0, "stop after this long, 0 flashes until interrupted")

	ledCmd.AddCommand(ledColorCmd, ledClearCmd, ledBrightnessCmd, ledFlashCmd)
	rootCmd.AddCommand(ledCmd)
}
