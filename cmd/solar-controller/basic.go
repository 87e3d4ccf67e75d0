package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/art-defcon/solar-controller/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewAdjustCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "adjust",
		Short:   "Enable or disable tracking",
		GroupID: gBasic,
		Long: `Switch the daemon between tracking and monitoring.

With tracking on, every cycle may energize a relay to chase the brighter
sensor. With tracking off, the daemon keeps reading sensors and switches
but leaves both relays off, which is useful for maintenance or manual
positioning.

The mode is runtime state; it resets to adjust_on_start on restart.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Enable tracking",
			RunE: func(_ *cobra.Command, _ []string) error {
				if _, err := apiClient().SetAdjusting(true); err != nil {
					return fmt.Errorf("failed to enable tracking: %v", err)
				}

				logrus.Infof("successfully enabled tracking")

				return nil
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Disable tracking (relays stay off)",
			RunE: func(_ *cobra.Command, _ []string) error {
				if _, err := apiClient().SetAdjusting(false); err != nil {
					return fmt.Errorf("failed to disable tracking: %v", err)
				}

				logrus.Infof("successfully disabled tracking")

				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Get the current tracking mode",
			RunE: func(_ *cobra.Command, _ []string) error {
				on, err := apiClient().GetAdjusting()
				if err != nil {
					return fmt.Errorf("failed to get tracking mode: %v", err)
				}

				if on {
					logrus.Infof("tracking is enabled")
				} else {
					logrus.Infof("tracking is disabled")
				}

				return nil
			},
		},
	)

	return cmd
}

func NewLogsCommand() *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Print recent daemon output",
		GroupID: gBasic,
		Long: `Print the daemon's recent output: decision trace lines interleaved
with service logs, oldest first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := apiClient().Logs(tail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %v", err)
			}

			cmd.Print(text)

			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 0, "lines to fetch (daemon default when 0)")

	return cmd
}
