package main

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/WatchParty/internal/adapters/rtc"
	"github.com/dkeye/WatchParty/internal/client/media"
	"github.com/dkeye/WatchParty/internal/client/party"
	"github.com/dkeye/WatchParty/internal/client/signaling"
	"github.com/dkeye/WatchParty/internal/client/syncer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagRoom      string
	flagRTPListen string
	flagDuration  time.Duration
	flagRTPOut    string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create or join a room and stream to it",
	Long: `Host reads VP8 RTP from a local UDP port and streams it to every viewer,
driving playback for the room. Feed it with, for example:

  ffmpeg -re -i movie.mp4 -an -c:v libvpx -f rtp rtp://127.0.0.1:5004`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		src, err := media.ListenUDP(flagRTPListen)
		if err != nil {
			return err
		}
		defer src.Close()
		return runParty(cmd, flagRoom, src, nil)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join CODE",
	Short: "Watch in an existing room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out io.Writer
		if flagRTPOut != "" {
			conn, err := net.Dial("udp", flagRTPOut)
			if err != nil {
				return err
			}
			defer conn.Close()
			out = conn
		}
		return runParty(cmd, args[0], nil, out)
	},
}

func init() {
	hostCmd.Flags().StringVar(&flagRoom, "room", "", "join this room instead of creating one")
	hostCmd.Flags().StringVar(&flagRTPListen, "rtp-listen", "127.0.0.1:5004", "UDP address to read RTP from")
	for _, c := range []*cobra.Command{hostCmd, joinCmd} {
		c.Flags().DurationVar(&flagDuration, "duration", 2*time.Hour, "length of the video")
	}
	joinCmd.Flags().StringVar(&flagRTPOut, "rtp-out", "", "UDP address to forward the received stream to")
}

func runParty(cmd *cobra.Command, room string, src media.Source, sinkOut io.Writer) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	client := signaling.NewClient(cfg.ServerURL)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	clk := clock.New()
	player := syncer.NewVirtualPlayer(clk, flagDuration.Seconds())
	opts := party.Options{
		Client:       cfg,
		RoomID:       room,
		Username:     cfg.Username,
		Player:       player,
		PlayerEvents: player.Events(),
		SinkOut:      sinkOut,
		Dial:         party.RTCDialer(rtc.Configuration(cfg)),
		Clock:        clk,
		Source:       src,
		Output:       os.Stdout,
	}
	p := party.New(client, opts)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return newConsole(p, player, os.Stdout).Run(ctx, os.Stdin) })
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}
