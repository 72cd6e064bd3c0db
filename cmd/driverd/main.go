package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "driverd",
		Short: "Driver-side ride sync daemon",
		Long: "driverd keeps a driver's ride state in sync with the ride backend:\n" +
			"current ride, incoming offers and ride history, with a local HTTP API\n" +
			"the driver app renders from.",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newToggleCmd("online", true))
	root.AddCommand(newToggleCmd("offline", false))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
