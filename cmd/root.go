package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Seann-Moser/servobit/pkg/controller"
	"github.com/Seann-Moser/servobit/pkg/io"
)

var (
	configPath string
	verbose    bool
	sim        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "servobit",
	Short: "Drive hobby servos and a status LED through a PCA9685 board",
	Long: `servobit positions up to 16 servos on a PCA9685 PWM board at a fixed
60 Hz frame, either immediately or at a limited speed, and shows a status
colour on an addressable LED.

Run it as a long lived service with "serve", or issue single commands with
"servo", "led" and "pwm".`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", controller.DefaultConfigFile, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&sim, "sim", false, "run without hardware, logging bus and LED traffic")
}

func newLogger() (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating logger")
	}
	return l.Sugar(), nil
}

func loadConfiguration() (controller.Configuration, error) {
	config, err := controller.LoadConfiguration(configPath)
	if err != nil {
		return config, err
	}
	if sim {
		config.GPIOChip = ""
		config.Bus = io.BackendSim
		config.OutputEnableLine = -1
		config.CentreButtonLine = -1
		config.Indicator.Pin = io.SimPin
	}
	if listen != "" {
		config.Listen = listen
	}
	return config, nil
}

// newController loads the configuration and opens the hardware.
func newController() (*controller.Controller, *zap.SugaredLogger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	config, err := loadConfiguration()
	if err != nil {
		return nil, nil, err
	}
	c, err := controller.New(config, logger)
	if err != nil {
		return nil, nil, err
	}
	c.SetConfigPath(configPath)
	return c, logger, nil
}
