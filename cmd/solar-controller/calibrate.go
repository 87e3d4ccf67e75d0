package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewCalibrateCommand() *cobra.Command {
	var samples int

	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"cali"},
		Short:   "Sample both sensors and suggest calibration factors",
		GroupID: gBasic,
		Long: `Sample both light sensors and suggest per-side calibration factors.

Park the panel under even illumination first (midday, panel level, or an
indoor rig with one lamp centered over both sensors). The daemon samples
both sides and derives the factors that would bring them to a common
level.

Nothing is applied automatically. Copy the suggested values into
tracker.left_cal / tracker.right_cal in the config file, or POST them to
/api/settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := apiClient().Calibrate(samples)
			if err != nil {
				return fmt.Errorf("failed to calibrate: %v", err)
			}

			cmd.Println(bold("Calibration pass:"))
			cmd.Printf("  Samples per side: %s\n", bold("%d", res.Samples))
			cmd.Printf("  Left:  mean %s, spread %.4f to %.4f\n",
				bold("%.4f V", res.Left.Mean), res.Left.Min, res.Left.Max)
			cmd.Printf("  Right: mean %s, spread %.4f to %.4f\n",
				bold("%.4f V", res.Right.Mean), res.Right.Min, res.Right.Max)
			cmd.Printf("  Common target: %s\n", bold("%.4f V", res.Target))

			cmd.Println()
			cmd.Println(bold("Suggested factors:"))
			cmd.Printf("  left_cal:  %s\n", bold("%.4f", res.LeftCal))
			cmd.Printf("  right_cal: %s\n", bold("%.4f", res.RightCal))

			if res.UnstableLight {
				cmd.Println()
				cmd.Println(color.New(color.Bold, color.FgYellow).Sprint("  Light was unstable during the pass; repeat under steadier light before applying."))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&samples, "samples", 0, "samples per side (daemon default when 0)")

	return cmd
}
