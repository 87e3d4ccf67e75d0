package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the tracker",
		Long:    `Get tracking state, the last decision, and the running configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient().Status()
			if err != nil {
				return err
			}

			tr := st.Tracker

			// Tracking state.
			cmd.Println(bold("Tracking status:"))
			cmd.Println("  Adjusting: " + bool2Text(tr.Adjusting))
			if tr.Adjusting {
				cmd.Println("    The panel follows the brighter sensor every tick.")
			} else {
				cmd.Println("    Monitoring only. Sensors are read but the relays stay off.")
			}

			cmdText := tr.RelayCommand
			switch cmdText {
			case "left_on", "right_on":
				cmdText = color.GreenString(cmdText)
			}
			cmd.Printf("  Relay command: %s\n", bold("%s", cmdText))
			switch tr.RelayCommand {
			case "left_on":
				cmd.Println("    Left relay energized; the panel is rotating right.")
			case "right_on":
				cmd.Println("    Right relay energized; the panel is rotating left.")
			}

			cmd.Printf("  Ticks: %s", bold("%d", tr.Ticks))
			if !tr.LastTickAt.IsZero() {
				cmd.Printf(" (last %s ago)", time.Since(tr.LastTickAt).Round(time.Second))
			}
			cmd.Println()

			cmd.Println()

			// Last decision inputs.
			cmd.Println(bold("Last reading:"))
			cmd.Printf("  Left: %s  Right: %s  Diff: %s\n",
				bold("%.2f V", tr.LeftSample),
				bold("%.2f V", tr.RightSample),
				bold("%+.2f V", tr.Diff))
			cmd.Printf("  Limit switches: left %s, right %s\n",
				switchText(tr.LeftSwitchActive), switchText(tr.RightSwitchActive))
			if tr.LastLine != "" {
				cmd.Printf("  Trace: %s\n", tr.LastLine)
			}
			if tr.LastError != "" {
				cmd.Printf("  Last error: %s\n", color.RedString(tr.LastError))
			}

			cmd.Println()

			// Config echo.
			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Interval: %s\n", bold(st.Config.Interval))
			cmd.Printf("  Turn threshold: %s\n", bold("%.2f V", st.Config.ThresholdTurn))
			cmd.Printf("  Calibration: left %s, right %s\n",
				bold("%.2f", st.Config.LeftCal), bold("%.2f", st.Config.RightCal))
			cmd.Printf("  Backends: gpio %s, adc %s\n",
				bold(st.Config.GPIOBackend), bold(st.Config.ADCBackend))

			cmd.Println()

			// Daemon.
			cmd.Println(bold("Daemon:"))
			cmd.Printf("  Uptime: %s\n", bold("%s", (time.Duration(st.UptimeSec)*time.Second).String()))
			if st.System.Disk != nil && st.System.Disk.LastError == "" {
				cmd.Printf("  Disk free: %s of %s\n",
					bold(humanBytes(st.System.Disk.RootAvailBytes)),
					humanBytes(st.System.Disk.RootTotalBytes))
			}
			if st.System.Network != nil && len(st.System.Network.LocalAddrs) > 0 {
				cmd.Printf("  Addresses: %s\n", strings.Join(st.System.Network.LocalAddrs, ", "))
			}
			return nil
		},
	}
}

func switchText(active bool) string {
	if active {
		return color.New(color.Bold, color.FgYellow).Sprint("at limit")
	}
	return "free"
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
