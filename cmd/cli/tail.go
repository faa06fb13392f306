package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/session"
)

var tailChannels []string

// allChannels is every event type the server can push.
var allChannels = []string{
	bus.ChannelMessage,
	bus.ChannelMessageEdited,
	bus.ChannelMessageDeleted,
	bus.ChannelMessagesRead,
	bus.ChannelUserTyping,
	bus.ChannelUserStoppedTyping,
	bus.ChannelUnreadCountUpdated,
	bus.ChannelNotification,
	bus.ChannelNotificationRead,
	bus.ChannelNotificationsCleared,
	bus.ChannelPostCreated,
	bus.ChannelPostUpdated,
	bus.ChannelPostDeleted,
	bus.ChannelGroupCreated,
	bus.ChannelGroupUpdated,
	bus.ChannelGroupDeleted,
	bus.ChannelCallIncoming,
	bus.ChannelCallAnswer,
	bus.ChannelCallICECandidate,
	bus.ChannelCallEnded,
	bus.ChannelUserOnline,
	bus.ChannelUserOffline,
	bus.ChannelUserUpdated,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream live events from the server",
	Long: `Connect to the server's WebSocket endpoint and print events as
they arrive. The connection re-registers automatically after network
interruptions. Filter with --channels, e.g. --channels message,userOnline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tailEvents()
	},
}

func init() {
	tailCmd.Flags().StringSliceVar(&tailChannels, "channels", nil, "Event types to print (default: all)")
}

func tailEvents() error {
	userID, err := whoami()
	if err != nil {
		return err
	}

	wsURL := strings.Replace(apiURL, "http", "ws", 1) + "/api/v1/ws"

	sess := session.New(session.Config{
		URL:    wsURL,
		Token:  authToken,
		UserID: userID,
	})
	defer sess.Close()

	channels := tailChannels
	if len(channels) == 0 {
		channels = allChannels
	}
	for _, ch := range channels {
		channel := ch
		sess.On(channel, func(payload json.RawMessage) {
			printEvent(channel, payload)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Connected as %s, streaming events (Ctrl-C to stop)...\n", userID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return nil
}

func printEvent(channel string, payload json.RawMessage) {
	if output == "json" {
		line, _ := json.Marshal(map[string]interface{}{
			"type":    channel,
			"payload": payload,
			"at":      time.Now().Format(time.RFC3339),
		})
		fmt.Println(string(line))
		return
	}
	fmt.Printf("%s  %-20s %s\n", time.Now().Format("15:04:05"), channel, string(payload))
}
