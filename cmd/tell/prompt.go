package main

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/NiklasVd/tell/internal/config"
	"github.com/NiklasVd/tell/pkg/identity"
	"github.com/NiklasVd/tell/pkg/interfaces"
	"github.com/pterm/pterm"
)

const (
	optionClient = "Client - join a chat server"
	optionServer = "Server - host a chat"
)

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: must be 0 ~ 65535", raw)
	}
	return port, nil
}

// resolveTarget turns host:port into an IPv4 socket address.
func resolveTarget(raw string) (netip.AddrPort, error) {
	addr, err := net.ResolveUDPAddr("udp4", strings.TrimSpace(raw))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	ap := interfaces.Normalize(addr.AddrPort())
	if ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid target %q: missing port", raw)
	}
	return ap, nil
}

// ask re-prompts until check accepts the input.
func ask(prompt, def string, check func(string) error) (string, error) {
	for {
		raw, err := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			WithDefaultValue(def).
			Show()
		if err != nil {
			return "", err
		}

		raw = strings.TrimSpace(raw)
		pterm.Println()
		if err := check(raw); err != nil {
			pterm.Warning.Println(err.Error())
			continue
		}
		return raw, nil
	}
}

// promptConfig asks for name, mode, port and (client only) target, using
// cfg's values as defaults.
func promptConfig(cfg *config.Config) error {
	name, err := ask("Name", cfg.Name, identity.ValidateName)
	if err != nil {
		return err
	}
	cfg.Name = name

	def := optionClient
	if cfg.IsServer() {
		def = optionServer
	}
	mode, err := pterm.DefaultInteractiveSelect.
		WithOptions([]string{optionClient, optionServer}).
		WithDefaultOption(def).
		WithDefaultText("Mode").
		Show()
	if err != nil {
		return err
	}
	pterm.Println()
	if mode == optionServer {
		cfg.Mode = config.MODE_SERVER
	} else {
		cfg.Mode = config.MODE_CLIENT
	}

	port, err := ask("Port (0 picks a free one)", strconv.Itoa(cfg.Port), func(s string) error {
		_, err := parsePort(s)
		return err
	})
	if err != nil {
		return err
	}
	cfg.Port, _ = parsePort(port)

	if cfg.IsServer() {
		return nil
	}
	target, err := ask("Server address (host:port)", cfg.Target, func(s string) error {
		_, err := resolveTarget(s)
		return err
	})
	if err != nil {
		return err
	}
	cfg.Target = target
	return nil
}
