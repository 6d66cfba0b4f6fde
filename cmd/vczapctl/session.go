package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/master-rogerio/VCZapO-sub001/internal/client"
)

func init() {
	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd, retryCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Profile: %s\n", st.Profile)
			fmt.Printf("State:   %s\n", st.State)
			if st.UserID != "" {
				fmt.Printf("User:    %s\n", st.UserID)
			}
			fmt.Printf("Uptime:  %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("Rooms:   %d\n", st.Rooms)
			if len(st.Watched) > 0 {
				fmt.Printf("Watched: %v\n", st.Watched)
			}
			fmt.Printf("Media:   %d bytes\n", st.MediaBytes)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Start a session and subscribe to the user's rooms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Login(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s.\n", args[0])
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and delete local data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Logged out.")
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubscribe the sync listeners after a failure",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.Retry(ctx); err != nil {
				return err
			}
			fmt.Println("Listeners restarted.")
			return nil
		})
	},
}
