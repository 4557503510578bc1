package cmd

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"

	"github.com/Seann-Moser/servobit/pkg/controller"
	"github.com/Seann-Moser/servobit/pkg/errcode"
)

var pwmCmd = &cobra.Command{
	Use:   "pwm <channel> <on> <off>",
	Short: "Write raw start and stop counts to one PWM channel",
	Long: `pwm programs one channel of the PCA9685 directly, bypassing the servo
angle mapping. Counts are 0 to 4095 within the 60 Hz frame; the servo
controller uses a start of 0 and stops between 146 and 592.

This resets the chip, so servo positions set by other commands are lost.`,
	Args: cobra.ExactArgs(3),
	RunE: withController(func(cmd *cobra.Command, c *controller.Controller, args []string) error {
		var v [3]int
		for i, a := range args {
			n, err := strconv.Atoi(a)
			if err != nil {
				return errors.Wrapf(errcode.InvalidParams, "argument %q", a)
			}
			v[i] = n
		}
		for _, count := range v[1:] {
			if count < 0 || count > 4095 {
				return errors.Wrapf(errcode.InvalidParams, "count %d not in [0, 4095]", count)
			}
		}
		return c.IO.RawPWM(c.Configuration.Address, v[0], gpio.Duty(v[1]), gpio.Duty(v[2]))
	}),
}

func init() {
	rootCmd.AddCommand(pwmCmd)
}
