package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var onlineCmd = &cobra.Command{
	Use:   "online <user-id> [user-id...]",
	Short: "Check which users are currently online",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkOnline(args)
	},
}

func checkOnline(userIDs []string) error {
	payload := map[string]interface{}{
		"user_ids": userIDs,
	}

	respBody, err := apiRequest("POST", "/api/v1/ws/online", payload)
	if err != nil {
		return err
	}

	if output == "json" {
		fmt.Println(string(respBody))
		return nil
	}

	var result struct {
		Statuses map[string]string `json:"statuses"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	ids := make([]string, 0, len(result.Statuses))
	for id := range result.Statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		marker := "○"
		if result.Statuses[id] == "online" {
			marker = "●"
		}
		fmt.Printf("%s %s  %s\n", marker, id, result.Statuses[id])
	}
	return nil
}
