package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run one local turn against the primary agent",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runChat(userID, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for the turn")
	return cmd
}

func runChat(userID, message string) {
	setupLogging()
	cfg := loadConfig()

	rt, err := buildRuntime(cfg)
	if err != nil {
		slog.Error("runtime setup failed", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	reply, err := rt.orch.HandleMessage(context.Background(), userID, message, nil)
	if err != nil {
		slog.Error("turn failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(reply)
}
