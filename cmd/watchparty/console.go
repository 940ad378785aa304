package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dkeye/WatchParty/internal/client/party"
	"github.com/dkeye/WatchParty/internal/client/syncer"
	"github.com/dkeye/WatchParty/internal/protocol"
)

var errQuit = errors.New("quit")

const help = "commands: play | pause | seek SECONDS | volume 0..1 | mute | unmute | say TEXT | status | users | quit"

// console turns stdin lines into player and room actions.
type console struct {
	p      *party.Participant
	player *syncer.VirtualPlayer
	out    io.Writer
}

func newConsole(p *party.Participant, player *syncer.VirtualPlayer, out io.Writer) *console {
	return &console{p: p, player: player, out: out}
}

// Run reads commands until quit or ctx ends. End of input is not a quit.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if err := c.exec(line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintln(c.out, err)
			}
		}
	}
}

func (c *console) exec(line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd, arg = strings.ToLower(cmd), strings.TrimSpace(arg)
	switch cmd {
	case "":
		return nil
	case "play":
		c.player.Play()
	case "pause":
		c.player.Pause()
	case "seek":
		pos, err := strconv.ParseFloat(arg, 64)
		if err != nil || pos < 0 {
			return fmt.Errorf("seek: want seconds, got %q", arg)
		}
		c.player.Seek(pos)
	case "volume":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 || v > 1 {
			return fmt.Errorf("volume: want 0..1, got %q", arg)
		}
		muted, _ := c.player.Volume()
		c.player.SetVolume(muted, v)
	case "mute", "unmute":
		_, v := c.player.Volume()
		c.player.SetVolume(cmd == "mute", v)
	case "say":
		if arg == "" {
			return errors.New("say: empty message")
		}
		return c.p.Say(arg)
	case "status":
		fmt.Fprintf(c.out, "room %s %s at %.1fs rtt %s\n", c.p.Room(), c.p.Status().Render(), c.player.Position(), c.rtt())
	case "users":
		fmt.Fprintln(c.out, userTable(c.p.Users()))
	case "quit", "exit":
		return errQuit
	default:
		return errors.New(help)
	}
	return nil
}

func userTable(users []protocol.UserEntry) string {
	rows := make([][]string, 0, len(users))
	for i, u := range users {
		mark := ""
		if u.IsStreamer {
			mark = "streaming"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), u.Username, mark})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#22d3ee"))).
		Headers("#", "Name", "").
		Rows(rows...).
		Render()
}

func (c *console) rtt() string {
	ms := c.p.RTT()
	if ms == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0fms", ms)
}
