package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/master-rogerio/VCZapO-sub001/internal/api"
	"github.com/master-rogerio/VCZapO-sub001/internal/client"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

var (
	limitFlag  int
	roomFlag   string
	prefixFlag string
)

func init() {
	messagesCmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum messages to list")
	searchCmd.Flags().StringVar(&roomFlag, "room", "", "restrict the search to one room")
	searchCmd.Flags().IntVar(&limitFlag, "limit", 50, "maximum results")
	eventsCmd.Flags().StringVar(&prefixFlag, "prefix", "sync.", "event kind prefix")
	rootCmd.AddCommand(roomsCmd, backfillCmd, messagesCmd, searchCmd, sendCmd, resendCmd, watchCmd, eventsCmd, mediaCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			rooms, err := c.ListRooms(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(rooms)
				return nil
			}
			if len(rooms) == 0 {
				fmt.Println("No rooms.")
				return nil
			}
			for _, r := range rooms {
				name := r.OtherParticipant.DisplayName
				if name == "" {
					name = r.OtherParticipant.ID
				}
				fmt.Printf("%-24s %-20s %s  %s\n", r.RoomID, name, formatTime(r.LastMessageTimestamp), r.LastMessage)
			}
			return nil
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <room-id>",
	Short: "Fetch a room's messages once and store them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			n, err := c.Backfill(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Stored %d messages.\n", n)
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "List a room's stored messages, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			page, err := c.ListMessages(ctx, api.ListMessagesRequest{RoomID: args[0], Limit: limitFlag})
			if err != nil {
				return err
			}
			printMessages(page.Messages)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored message content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			hits, err := c.Search(ctx, api.SearchRequest{Query: args[0], RoomID: roomFlag, Limit: limitFlag})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(hits)
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%-24s %s  %s\n", h.Message.RoomID, formatTime(h.Message.CreatedAt), h.Snippet)
			}
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <text>",
	Short: "Send a text message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			msg, err := c.Send(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return reportDelivery(msg)
		})
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <message-id>",
	Short: "Retry delivery of an unacknowledged message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			msg, err := c.Resend(ctx, args[0])
			if err != nil {
				return err
			}
			return reportDelivery(msg)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Follow a room's messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = c.WatchRoom(ctx, args[0], func(msgs []model.Message) error {
			if !jsonFlag {
				fmt.Println("---")
			}
			printMessages(msgs)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print daemon events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = c.WatchEvents(ctx, prefixFlag, func(evt api.EventEnvelope) error {
			if jsonFlag {
				outputJSON(evt)
				return nil
			}
			ts := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
			fmt.Printf("%s %-22s %s\n", ts, evt.Kind, evt.Detail)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var mediaCmd = &cobra.Command{
	Use:   "media <url>",
	Short: "Resolve a media URL through the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			h, err := c.ResolveMedia(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(h)
				return nil
			}
			if h.Local {
				fmt.Println(h.Path)
			} else {
				fmt.Println(h.URL)
			}
			return nil
		})
	},
}

func printMessages(msgs []model.Message) {
	if jsonFlag {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		marker := " "
		if !m.Delivered {
			marker = "…"
		}
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		fmt.Printf("%s %s %-16s %s\n", formatTime(m.CreatedAt), marker, sender, m.Content)
	}
}

func reportDelivery(msg model.Message) error {
	if jsonFlag {
		outputJSON(msg)
	} else {
		fmt.Printf("%s\n", msg.ID)
	}
	if !msg.Delivered {
		return errors.New("message stored locally but not delivered; run resend to retry")
	}
	return nil
}

func formatTime(ts model.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Time().Local().Format(time.DateTime)
}
