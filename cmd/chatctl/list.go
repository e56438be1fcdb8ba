package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"campuscart/chat-service/internal/client"
	"campuscart/chat-service/internal/models"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		tr, err := newTracker(api.Identity().ID)
		if err != nil {
			return err
		}

		inbox := client.NewConversationList(api, tr, api.Identity().ID, logger)
		if err := inbox.Load(context.Background()); err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		items := inbox.Items()

		if listOutput == "json" {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No conversations yet. Try `chatctl search <name>`.")
			return nil
		}

		rows := make([][]string, 0, len(items))
		for _, it := range items {
			rows = append(rows, summaryRow(it))
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			Headers("", "User ID", "Name", "Last Message", "Last Activity").
			Rows(rows...)

		fmt.Println(t)
		return nil
	},
}

func summaryRow(s models.ConversationSummary) []string {
	mark := " "
	if s.Unread {
		mark = "●"
	}
	last := s.LastMessageText
	if last == "" {
		last = "-"
	} else if s.LastSender != "" && s.LastSender != s.OtherUser.ID {
		last = "you: " + last
	}
	return []string{
		mark,
		s.OtherUser.ID,
		s.OtherUser.Name,
		truncate(last, 48),
		s.LastActivityAt.Local().Format("2006-01-02 15:04"),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format (table|json)")
	rootCmd.AddCommand(listCmd)
}
