package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/client"
)

var openCmd = &cobra.Command{
	Use:   "open <partner-id>",
	Short: "Open a conversation and chat interactively",
	Long: `Open the conversation with a user, print its history and follow new
messages live. Every line typed is sent.

  /retry    resend the last failed message
  /refresh  reload history from the server
  /quit     leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newAPI()
		if err != nil {
			return err
		}
		self := api.Identity().ID
		tr, err := newTracker(self)
		if err != nil {
			return err
		}
		wsURL, err := liveURL(viper.GetString("server"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		live := client.NewLive(wsURL, api.Identity(), client.LiveOptions{
			OnError: func(err error) {
				fmt.Fprintln(out, "! live updates paused, reconnecting")
				logger.WithError(err).Debug("Live channel failed")
			},
		}, logger)

		liveErr := make(chan error, 1)
		go func() { liveErr <- live.Run(ctx) }()

		session, err := client.OpenSession(ctx, api, live, tr, self, args[0], client.SessionOptions{
			OnEntry: func(e client.Entry) { printEntry(out, self, e) },
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open conversation: %w", err)
		}
		defer session.Close()

		// Messages missed while the channel was down only show up on reload.
		cancelReconnect := live.OnReconnect(func() {
			if err := session.Refresh(ctx); err != nil {
				logger.WithError(err).Warn("Failed to refresh conversation after reconnect")
			}
		})
		defer cancelReconnect()

		partner := session.Partner()
		fmt.Fprintf(out, "── %s (%s) ──\n", partner.Name, partner.ID)
		for _, e := range session.Entries() {
			printEntry(out, self, e)
		}

		lines := make(chan string)
		go scanLines(os.Stdin, lines)

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-liveErr:
				if apperr.Is(err, apperr.KindAuth) {
					return fmt.Errorf("live channel rejected credentials: %w", err)
				}
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if done := handleLine(ctx, out, session, self, line); done {
					return nil
				}
			}
		}
	},
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

func handleLine(ctx context.Context, out io.Writer, session *client.ChatSession, self, line string) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit":
		return true
	case "/refresh":
		if err := session.Refresh(ctx); err != nil {
			fmt.Fprintf(out, "! refresh failed: %v\n", err)
			return false
		}
		for _, e := range session.Entries() {
			printEntry(out, self, e)
		}
		return false
	case "/retry":
		failed := lastFailed(session.Entries())
		if failed == "" {
			fmt.Fprintln(out, "! nothing to retry")
			return false
		}
		if _, err := session.Retry(ctx, failed); err != nil {
			fmt.Fprintf(out, "! still failing: %v (type /retry again)\n", err)
		}
		return false
	}

	if _, err := session.Send(ctx, line); err != nil {
		fmt.Fprintf(out, "! not sent: %v (type /retry)\n", err)
	}
	return false
}

func lastFailed(entries []client.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == client.StatusFailed {
			return entries[i].ClientID
		}
	}
	return ""
}

func printEntry(out io.Writer, self string, e client.Entry) {
	who := e.Sender
	if e.Sender == self {
		who = "you"
	}
	suffix := ""
	if e.Status != client.StatusSent {
		suffix = " [" + string(e.Status) + "]"
	}
	fmt.Fprintf(out, "%s %s: %s%s\n", e.CreatedAt.Local().Format("15:04"), who, e.Content, suffix)
}

func init() {
	rootCmd.AddCommand(openCmd)
}
