package cmd

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Seann-Moser/servobit/pkg/controller"
	"github.com/Seann-Moser/servobit/pkg/errcode"
)

var (
	moveSpeed   int
	moveTimeout time.Duration
)

var servoCmd = &cobra.Command{
	Use:   "servo",
	Short: "Position servos from the command line",
}

var servoCentreCmd = &cobra.Command{
	Use:   "centre",
	Short: "Move every servo to 0 degrees",
	Args:  cobra.NoArgs,
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		c.Servos.CentreAll()
		return printJSON(cmd, c.Servos.States())
	}),
}

var servoSetCmd = &cobra.Command{
	Use:   "set <channel> <angle>",
	Short: "Move a servo to an angle immediately",
	Args:  cobra.ExactArgs(2),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		ch, angle, err := channelAndAngle(args)
		if err != nil {
			return err
		}
		if err := c.Servos.SetAngle(ch, angle); err != nil {
			return err
		}
		st, err := c.Servos.State(ch)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	}),
}

var servoMoveCmd = &cobra.Command{
	Use:   "move <channel> <angle>",
	Short: "Move a servo to an angle at a limited speed and wait for it",
	Args:  cobra.ExactArgs(2),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		ch, angle, err := channelAndAngle(args)
		if err != nil {
			return err
		}
		if err := c.Servos.MoveTo(ch, angle, moveSpeed); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), moveTimeout)
		defer cancel()
		if err := c.Servos.WaitUntilDone(ctx, ch); err != nil {
			return errors.Wrapf(errcode.Timeout, "servo %d: %v", ch, err)
		}
		st, err := c.Servos.State(ch)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	}),
}

var servoStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of every channel and the bus diagnostics",
	Args:  cobra.NoArgs,
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		return printJSON(cmd, map[string]interface{}{
			"servos":      c.Servos.States(),
			"diagnostics": c.Servos.Diagnostics(),
		})
	}),
}

// withController opens the hardware around a one shot command.
func withController(f func(cmd *cobra.Command, c *controller.Controller, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		c, logger, err := newController()
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, c.Close())
			_ = logger.Sync()
		}()
		if cmd.Context() == nil {
			cmd.SetContext(context.Background())
		}
		// one shot commands leave the servos powered after exit
		c.IO.ReleaseAs(c.Configuration.OutputEnableLine, 0)
		if err := c.IO.EnableOutputs(c.Configuration.OutputEnableLine, true); err != nil {
			return err
		}
		return f(cmd, c, args)
	}
}

func channelAndAngle(args []string) (int, int, error) {
	ch, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, errors.Wrapf(errcode.InvalidChannel, "channel %q", args[0])
	}
	angle, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, errors.Wrapf(errcode.InvalidParams, "angle %q", args[1])
	}
	return ch, angle, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	servoMoveCmd.Flags().IntVar(&moveSpeed, "speed", 60, "degrees per second, 1 to 1000")
	servoMoveCmd.Flags().DurationVar(&moveTimeout, "timeout", time.Minute, "give up waiting after this long")

	servoCmd.AddCommand(servoCentreCmd, servoSetCmd, servoMoveCmd, servoStatusCmd)
	rootCmd.AddCommand(servoCmd)
}
