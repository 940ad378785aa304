package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagServer        string
	flagName          string
	flagSTUN          string
	flagTURN          string
	flagTURNUser      string
	flagTURNPass      string
	flagRelay         bool
	flagViewerControl bool
	flagVerbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "watchparty",
	Short: "Watch a video together, in sync",
	Long: `watchparty joins a WatchParty room from the terminal. One member hosts the
stream and everyone else follows the host's playback.

Examples:
  watchparty host --rtp-listen 127.0.0.1:5004
  watchparty join ABC123 --rtp-out 127.0.0.1:5006`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagServer, "server", "", "relay websocket URL")
	f.StringVarP(&flagName, "name", "n", "", "display name")
	f.StringVar(&flagSTUN, "stun", "", "comma separated STUN URLs")
	f.StringVar(&flagTURN, "turn", "", "comma separated TURN URLs")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&flagRelay, "relay", false, "force traffic through TURN")
	f.BoolVar(&flagViewerControl, "viewer-control", false, "let your own playback changes reach the room while watching")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(hostCmd, joinCmd)
}

// loadClientConfig merges command line flags over the config file.
func loadClientConfig() (config.ClientConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.ClientConfig{}, err
	}
	c := cfg.Client
	if flagServer != "" {
		c.ServerURL = flagServer
	}
	if flagName != "" {
		c.Username = flagName
	}
	if flagSTUN != "" {
		c.STUNURLs = splitList(flagSTUN)
	}
	if flagTURN != "" {
		c.TURNURLs = splitList(flagTURN)
	}
	if flagTURNUser != "" {
		c.TURNUsername = flagTURNUser
	}
	if flagTURNPass != "" {
		c.TURNPassword = flagTURNPass
	}
	if flagRelay {
		c.ForceRelay = true
	}
	if flagViewerControl {
		c.ViewerControl = true
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)

func printError(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+msg))
}
