package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// The status/online/offline subcommands are thin clients for a running
// daemon's control API, handy from a shell or a service manager hook.

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctlRequest(http.MethodGet, addr+"/v1/state")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:7180", "control API address")
	return cmd
}

func newToggleCmd(name string, online bool) *cobra.Command {
	var addr string
	short := "Take the driver offline"
	if online {
		short = "Put the driver online"
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := ctlRequest(http.MethodPost, addr+"/v1/"+name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:7180", "control API address")
	return cmd
}

func ctlRequest(method, url string) (string, error) {
	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("is driverd running? %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(b))
	}
	return string(b), nil
}
