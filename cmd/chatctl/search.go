package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var searchOutput string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find users by name or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}

		users, err := api.SearchUsers(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to search users: %w", err)
		}

		if searchOutput == "json" {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No matching users.")
			return nil
		}

		rows := make([][]string, 0, len(users))
		for _, u := range users {
			rows = append(rows, []string{u.ID, u.Name, u.Email})
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
			Headers("User ID", "Name", "Email").
			Rows(rows...)

		fmt.Println(t)
		return nil
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", "table", "output format (table|json)")
	rootCmd.AddCommand(searchCmd)
}
