package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/master-rogerio/VCZapO-sub001/internal/api"
	"github.com/master-rogerio/VCZapO-sub001/internal/client"
)

var (
	senderFlag    string
	nameFlag      string
	recipientFlag string
)

func init() {
	pushCmd.Flags().StringVar(&senderFlag, "from", "", "sender id")
	pushCmd.Flags().StringVar(&nameFlag, "name", "", "sender display name")
	replyCmd.Flags().StringVar(&senderFlag, "as", "", "replying user id")
	replyCmd.Flags().StringVar(&recipientFlag, "to", "", "recipient user id")
	readCmd.Flags().StringVar(&senderFlag, "as", "", "reading user id")
	_ = replyCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(pushCmd, replyCmd, readCmd)
}

var pushCmd = &cobra.Command{
	Use:   "push <room-id> <text>",
	Short: "Record an inbound notification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			thread, err := c.Push(ctx, api.PushRequest{RoomID: args[0], SenderID: senderFlag, SenderName: nameFlag, Text: args[1]})
			if err != nil {
				return err
			}
			printThread(thread)
			return nil
		})
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply <room-id> <text>",
	Short: "Reply from the notification thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			thread, err := c.Reply(ctx, api.ReplyRequest{RoomID: args[0], SenderID: senderFlag, RecipientID: recipientFlag, Text: args[1]})
			if err != nil {
				return err
			}
			printThread(thread)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <room-id>",
	Short: "Mark a room read and clear its notification thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.MarkRead(ctx, args[0], senderFlag)
		})
	},
}

func printThread(thread []api.ThreadEntry) {
	if jsonFlag {
		outputJSON(thread)
		return
	}
	for _, e := range thread {
		who := "them"
		if e.AuthorIsSelf {
			who = "me"
		}
		fmt.Printf("%s %-4s %s\n", time.UnixMilli(e.TimestampMs).Format(time.TimeOnly), who, e.Text)
	}
}
