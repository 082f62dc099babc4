package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmaster/internal/config"
	"github.com/loykin/taskmaster/pkg/client"
)

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:   "taskmasterctl <command> [args...]",
		Short: "Send one control command to a running taskmasterd",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := client.Send(socketPath, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if reply != "" {
				fmt.Println(reply)
			}
			return nil
		},
	}
	root.Flags().StringVar(&socketPath, "socket", config.DefaultSocket, "control socket path")
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
