package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/NiklasVd/tell/internal/config"
	"github.com/NiklasVd/tell/internal/storage"
	"github.com/NiklasVd/tell/pkg/adapter"
	"github.com/NiklasVd/tell/pkg/client"
	"github.com/NiklasVd/tell/pkg/common"
	"github.com/NiklasVd/tell/pkg/conn"
	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/packet"
	"github.com/NiklasVd/tell/pkg/server"
	"github.com/chzyer/readline"
	"github.com/pterm/pterm"
)

// repl reads console lines until quit, EOF or ctx ends. handle runs every
// command allowed by verbs other than help and quit.
func repl(ctx context.Context, console *Console, verbs []string, handle func(command) error) {
	stop := context.AfterFunc(ctx, console.Close)
	defer stop()

	for {
		line, err := console.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		cmd, err := parseCommand(line)
		switch {
		case err != nil:
			console.Println(pterm.Warning.Sprint(err.Error()))
			continue
		case cmd.verb == "":
			continue
		case !slices.Contains(verbs, cmd.verb):
			console.Println(pterm.Warning.Sprintf("%s is not available in this mode", cmd.verb))
			continue
		case cmd.verb == cmdHelp:
			console.Println(helpText(verbs))
			continue
		case cmd.verb == cmdQuit:
			return
		}

		if err := handle(cmd); err != nil {
			console.Println(pterm.Warning.Sprint(err.Error()))
		}
	}
}

func renderMetrics(snaps []conn.Snapshot, stats common.NetworkStats) string {
	totals := fmt.Sprintf("socket: sent %d packets / %d bytes, received %d packets / %d bytes",
		stats.PacketsSent, stats.BytesSent, stats.PacketsReceived, stats.BytesReceived)
	if len(snaps) == 0 {
		return "no connections\n" + totals
	}

	data := pterm.TableData{{"Address", "Peer", "State", "Sent", "Received", "Last heard"}}
	for _, s := range snaps {
		peer := "-"
		if s.Bound {
			peer = s.Peer.String()
		}
		data = append(data, []string{
			s.Addr.String(),
			peer,
			s.State.String(),
			fmt.Sprintf("%d pkts / %d B", s.Send.Packets, s.Send.Bytes),
			fmt.Sprintf("%d pkts / %d B", s.Recv.Packets, s.Recv.Bytes),
			time.Since(s.Recv.LastTransfer).Truncate(time.Millisecond).String() + " ago",
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err.Error()
	}
	return out + "\n" + totals
}

func peerNames(ids []identity.Identity) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, ", ")
}

func formatRecord(r storage.Record) string {
	return fmt.Sprintf("[%s] %s (%s): %s", r.At.Format("02 Jan 15:04"), r.Peer.Name, r.Target, r.Text)
}

func runServer(ctx context.Context, cfg *config.Config, id identity.Identity, every time.Duration, opts []adapter.Option) error {
	srv, err := server.New(id, cfg.AdapterConfig(),
		server.WithRateLimit(float64(cfg.MessageRate), float64(cfg.MessageBurst)),
		server.WithAdapterOptions(opts...))
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	pterm.Success.Printfln("Hosting as %s on %s (max %d peers)", id, srv.LocalAddr(), cfg.MaxConns())

	console, err := NewConsole("server> ")
	if err != nil {
		return err
	}
	defer console.Close()
	debug.SetOutput(console)
	defer debug.SetOutput(os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run(ctx, every)
		cancel()
	}()

	repl(ctx, console, serverCommands, func(cmd command) error {
		switch cmd.verb {
		case cmdPeers:
			peers := srv.Established()
			if len(peers) == 0 {
				console.Println("no peers online")
				return nil
			}
			console.Println(fmt.Sprintf("%d online: %s", len(peers), peerNames(peers)))
		case cmdMetrics:
			console.Println(renderMetrics(srv.Metrics(), srv.Stats()))
		}
		return nil
	})

	cancel()
	return <-runErr
}

// chat is the client side console session.
type chat struct {
	c       *client.Client
	console *Console
	history *storage.History
	target  string
}

func runClient(ctx context.Context, cfg *config.Config, id identity.Identity, every time.Duration, opts []adapter.Option) error {
	history, err := storage.OpenHistory(cfg.Resolve(cfg.HistoryPath))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()

	if recent, err := history.Recent(defaultHistoryLines); err == nil && len(recent) > 0 {
		pterm.DefaultSection.Println("Recent messages")
		for _, r := range recent {
			pterm.Println(formatRecord(r))
		}
		pterm.Println()
	}

	c, err := client.New(id, cfg.AdapterConfig(), opts...)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	console, err := NewConsole(fmt.Sprintf("%s> ", id.Name))
	if err != nil {
		return err
	}
	defer console.Close()
	debug.SetOutput(console)
	defer debug.SetOutput(os.Stderr)

	s := &chat{c: c, console: console, history: history, target: cfg.Target}
	if err := s.connect(""); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pump(ctx, every)
		cancel()
	}()

	repl(ctx, console, clientCommands, s.handle)

	if _, ok := c.Remote(); ok {
		_ = c.Disconnect()
	}
	cancel()
	<-done
	return nil
}

func (s *chat) connect(target string) error {
	if target == "" {
		target = s.target
	}
	addr, err := resolveTarget(target)
	if err != nil {
		return err
	}
	if err := s.c.Connect(addr); err != nil {
		return err
	}
	s.target = target
	s.console.Println(pterm.Info.Sprintf("Connecting to %s as %s", addr, s.c.Identity()))
	return nil
}

// pump polls the client until ctx ends or its adapter stops.
func (s *chat) pump(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.c.Done():
			s.poll()
			s.console.Println(pterm.Error.Sprint("network loop stopped"))
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *chat) poll() {
	notices, err := s.c.Poll()
	for _, n := range notices {
		s.show(n)
	}
	if err != nil {
		debug.Log(debug.DEBUG_INFO, "Poll failed", "error", err)
	}
}

func (s *chat) show(n client.Notice) {
	switch n.Kind {
	case client.NOTICE_ACCEPTED:
		s.console.Println(pterm.Success.Sprintf("Connected to %s", n.Peer))
		if err := s.c.RequestPeers(); err != nil {
			debug.Log(debug.DEBUG_ERROR, "Failed to request peers", "error", err)
		}

	case client.NOTICE_REJECTED, client.NOTICE_DISCONNECTED:
		s.console.Println(pterm.Warning.Sprint(n.String() + ", use connect to retry"))

	case client.NOTICE_MESSAGE:
		r := storage.Record{At: n.Entry.At, Peer: n.Entry.From, Target: n.Entry.Target.Kind.String(), Text: n.Entry.Text}
		if _, err := s.history.Append(r); err != nil {
			debug.Log(debug.DEBUG_ERROR, "Failed to store message", "error", err)
		}
		s.console.Println(formatRecord(r))

	case client.NOTICE_PEER_LIST:
		s.console.Println(fmt.Sprintf("%d online: %s", len(n.Peers), peerNames(n.Peers)))

	default:
		s.console.Println(n.String())
	}
}

func (s *chat) resolve(names []string) ([]identity.Identity, error) {
	ids := make([]identity.Identity, 0, len(names))
	for _, name := range names {
		id, ok := s.c.FindPeer(name)
		if !ok {
			return nil, fmt.Errorf("unknown peer %q, try peers", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *chat) handle(cmd command) error {
	switch cmd.verb {
	case cmdMsg:
		return s.c.Message(packet.Broadcast(), cmd.text)

	case cmdWhisper, cmdMulticast:
		ids, err := s.resolve(cmd.names)
		if err != nil {
			return err
		}
		target := packet.Multicast(ids...)
		if cmd.verb == cmdWhisper {
			target = packet.Unicast(ids[0])
		}
		if err := s.c.Message(target, cmd.text); err != nil {
			return err
		}
		if !target.Includes(s.c.Identity()) {
			s.console.Println(fmt.Sprintf("(to %s) %s", strings.Join(cmd.names, ","), cmd.text))
		}
		return nil

	case cmdPeers:
		return s.c.RequestPeers()

	case cmdMetrics:
		s.console.Println(renderMetrics(s.c.Metrics(), s.c.Stats()))
		return nil

	case cmdHistory:
		records, err := s.history.Recent(cmd.count)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			s.console.Println("no messages yet")
		}
		for _, r := range records {
			s.console.Println(formatRecord(r))
		}
		return nil

	case cmdConnect:
		if _, ok := s.c.Remote(); ok {
			return fmt.Errorf("%w: disconnect first", common.ErrPeerAlreadyConnected)
		}
		return s.connect(cmd.text)

	case cmdDisconnect:
		if err := s.c.Disconnect(); err != nil {
			return err
		}
		s.console.Println("Disconnected")
		return nil
	}
	return nil
}
