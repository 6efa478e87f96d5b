package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"phantom_chat/internal/service/app"
	"phantom_chat/internal/service/client"
	"phantom_chat/internal/utils/log"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		serverURL string
		roomID    string
		ttl       int
		logLevel  string
		logFile   string
	)

	cmd := &cobra.Command{
		Use:          "phantom-client",
		Short:        "Terminal client for ephemeral end-to-end encrypted rooms",
		Long:         "Creates a room (or joins one with --room), runs the hybrid key exchange with the peer and chats until the room is destroyed.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl < 0 {
				return fmt.Errorf("--ttl must not be negative")
			}
			// The terminal UI owns stdout and stderr.
			if err := log.Init(logLevel, logFile); err != nil {
				return err
			}
			defer log.Sync()

			c, err := client.New(serverURL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := app.NewApp(c)
			go func() {
				<-ctx.Done()
				a.Stop()
			}()
			return a.Run(ctx, roomID, time.Duration(ttl)*time.Second)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "relay base URL")
	cmd.Flags().StringVar(&roomID, "room", "", "room id to join, a new room is created when empty")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in seconds of a newly created room, 0 for the relay default")
	cmd.Flags().StringVar(&logLevel, "log-level", "ERROR", "log level")
	cmd.Flags().StringVar(&logFile, "log-file", os.DevNull, "log file")
	return cmd
}
