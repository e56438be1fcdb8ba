package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"campuscart/chat-service/internal/client"
	"campuscart/chat-service/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Terminal client for the campus marketplace chat",
	Long: `chatctl talks to the chat server over REST and the live websocket.

Credentials come from flags or CHATCTL_SERVER, CHATCTL_TOKEN and CHATCTL_USER.
Read state (the last time each conversation was opened) is kept per user
under --state-dir.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			logger.SetLevel(logrus.DebugLevel)
		}
		return nil
	},
}

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	logger.SetOutput(os.Stderr)

	defaultState := ".chatctl"
	if home, err := os.UserHomeDir(); err == nil {
		defaultState = filepath.Join(home, ".chatctl")
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "chat server base URL")
	flags.String("token", "", "bearer token issued by the identity provider")
	flags.String("user", "", "your user id")
	flags.String("state-dir", defaultState, "directory holding local read state")
	flags.BoolP("verbose", "v", false, "debug logging")

	for _, name := range []string{"server", "token", "user", "state-dir", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("CHATCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func currentIdentity() (client.Identity, error) {
	id := client.Identity{ID: viper.GetString("user"), Token: viper.GetString("token")}
	if id.ID == "" || id.Token == "" {
		return client.Identity{}, fmt.Errorf("--user and --token are required")
	}
	return id, nil
}

func newAPI() (*client.API, error) {
	id, err := currentIdentity()
	if err != nil {
		return nil, err
	}
	return client.NewAPI(viper.GetString("server"), id, nil), nil
}

func newTracker(userID string) (*tracker.Tracker, error) {
	t, err := tracker.New(tracker.NewFileStore(viper.GetString("state-dir"), userID))
	if err != nil {
		return nil, fmt.Errorf("failed to load read state: %w", err)
	}
	return t, nil
}

// liveURL turns the REST base URL into the websocket endpoint.
func liveURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}
