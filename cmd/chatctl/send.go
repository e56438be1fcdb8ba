package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <partner-id> <text...>",
	Short: "Send one message without opening the conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}

		msg, err := api.SendMessage(context.Background(), args[0], strings.Join(args[1:], " "), uuid.NewString())
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		fmt.Printf("sent %s at %s\n", msg.ID, msg.CreatedAt.Local().Format("15:04:05"))
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear <partner-id>",
	Short: "Delete every message exchanged with a user",
	Long: `Delete the whole message history with a user, in both directions.
The conversation itself stays listed, with no last message.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear history with %s without --yes", args[0])
		}
		api, err := newAPI()
		if err != nil {
			return err
		}

		deleted, err := api.ClearConversation(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to clear conversation: %w", err)
		}
		fmt.Printf("deleted %d messages\n", deleted)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "confirm deletion")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(clearCmd)
}
