package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <message>",
	Short: "Send a direct message to another user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendMessage(args[0], args[1])
	},
}

func sendMessage(receiverID, body string) error {
	payload := map[string]interface{}{
		"receiver_id": receiverID,
		"body":        body,
	}

	respBody, err := apiRequest("POST", "/api/v1/messages", payload)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Println(string(respBody))
		return nil
	}

	var result struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("✓ Message sent (%s)\n", result.Message.ID)
	return nil
}
