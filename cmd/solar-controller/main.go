package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/art-defcon/solar-controller/internal/client"
)

var (
	logLevel   = "info"
	apiAddr    = ":8011"
	configPath = "/etc/solar-controller.yaml"
)

var (
	gBasic        = "Basic:"
	gDaemon       = "Daemon:"
	commandGroups = []string{
		gBasic,
		gDaemon,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: solar-controller daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'solar-controller run', or point --addr at the right host.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

// NewCommand builds the root command with all subcommands attached.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solar-controller",
		Short: "solar-controller keeps a single-axis panel pointed at the sun",
		Long: `solar-controller drives a single-axis solar tracker: two light
sensors are compared once per tick and the panel is rotated toward the
brighter side until the limit switch on that side trips.

The daemon (solar-controller run) owns the hardware and serves a local
HTTP API; the other subcommands talk to it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&apiAddr, "addr", apiAddr, "daemon API address")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewRunCommand(),
		NewStatusCommand(),
		NewAdjustCommand(),
		NewCalibrateCommand(),
		NewLogsCommand(),
		NewVersionCommand(),
	)

	return cmd
}

// apiClient builds a client for the current --addr value. Built per
// call so flag parsing has already happened.
func apiClient() *client.Client {
	return client.NewClient(apiAddr)
}
