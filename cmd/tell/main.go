package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NiklasVd/tell/internal/config"
	"github.com/NiklasVd/tell/internal/storage"
	"github.com/NiklasVd/tell/pkg/adapter"
	"github.com/NiklasVd/tell/pkg/capture"
	"github.com/NiklasVd/tell/pkg/debug"
	"github.com/pterm/pterm"
)

var (
	configPath  = flag.String("config", "", "Path to config file (default ~/.tell/config)")
	noPrompt    = flag.Bool("no-prompt", false, "Start with config values, skipping the interactive prompts")
	pollEvery   = flag.Duration("poll", 20*time.Millisecond, "Event poll interval")
	capturePath = flag.String("capture", "", "Append a hex dump of every datagram to this file")
)

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.InitConfig()
	}
	cfg, err := config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			return nil, err
		}
		return config.LoadConfig(*configPath)
	}
	return cfg, err
}

func debugFlagSet() bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "debug" {
			set = true
		}
	})
	return set
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !debugFlagSet() {
		debug.SetDebugLevel(cfg.LogLevel)
	}

	pterm.Info.Println("tell: UDP chat")
	pterm.Println()

	if !*noPrompt {
		if err := promptConfig(cfg); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg); err != nil {
			debug.Log(debug.DEBUG_ERROR, "Failed to save config", "path", cfg.ConfigPath, "error", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Name == "" {
		return errors.New("no name configured")
	}

	store, err := storage.NewManager(cfg.Resolve(cfg.IdentityPath))
	if err != nil {
		return err
	}
	id, reused, err := store.IdentityFor(cfg.Name)
	if err != nil {
		return err
	}
	if reused {
		pterm.Info.Printfln("Welcome back, %s", id)
	}

	var opts []adapter.Option
	if *capturePath != "" {
		pi, err := capture.New(*capturePath)
		if err != nil {
			return err
		}
		defer pi.Close()
		opts = append(opts, adapter.WithTap(pi))
		pterm.Info.Printfln("Capturing packets to %s", *capturePath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsServer() {
		return runServer(ctx, cfg, id, *pollEvery, opts)
	}
	return runClient(ctx, cfg, id, *pollEvery, opts)
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}
