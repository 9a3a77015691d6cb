// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// weft-host runs one lattice node: it starts the configured actors and
// providers, joins the control plane, and serves until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/weft-foundation/weft/actorhost"
	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/chunk"
	"github.com/weft-foundation/weft/control"
	"github.com/weft-foundation/weft/host"
	"github.com/weft-foundation/weft/kvstore"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/config"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/provider"
	"github.com/weft-foundation/weft/provider/keyvalue"
)

const version = "0.1.0"

// builtinProviders maps capability contracts to the provider
// implementations this binary can start.
var builtinProviders = map[string]func() provider.Provider{
	keyvalue.ContractID: func() provider.Provider { return keyvalue.New() },
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the host config file (or set "+config.EnvVar+")")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("weft-host %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := loadKey(cfg, logger)
	if err != nil {
		return err
	}

	var store *kvstore.Store
	var chunks chunk.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		store, err = kvstore.Open(kvstore.Config{Path: cfg.StorePath(), Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()

		compression, err := chunk.ParseCompression(cfg.Compression)
		if err != nil {
			return err
		}
		chunks, err = chunk.NewFSStore(chunk.FSConfig{
			Root:        cfg.ChunkDir(),
			Compression: compression,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
	}

	conn := bus.NewMemory(nil)
	h, err := host.New(host.Config{
		Lattice:          cfg.Lattice,
		Key:              key,
		Bus:              conn,
		Store:            store,
		Chunks:           chunks,
		Labels:           cfg.Labels,
		AllowLiveUpdates: cfg.AllowLiveUpdates,
		StrictUpdates:    cfg.StrictUpdates,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop(context.Background())

	for _, p := range cfg.Providers {
		factory, ok := builtinProviders[p.ContractID]
		if !ok {
			return fmt.Errorf("no built-in provider for contract %q", p.ContractID)
		}
		providerEntity := entity.Provider(p.ProviderID, p.ContractID, p.LinkName)
		if err := h.RegisterProvider(ctx, providerEntity, factory()); err != nil {
			return err
		}
	}

	var watchers []*actorhost.Watcher
	defer func() {
		for _, w := range watchers {
			w.Close()
		}
	}()
	for _, actor := range cfg.Actors {
		actorID, err := h.StartActor(ctx, actor.Path)
		if err != nil {
			return fmt.Errorf("starting %s: %w", actor.Path, err)
		}
		if actor.Replicas > 1 {
			if err := h.ScaleActor(ctx, actorID, actor.Replicas); err != nil {
				return err
			}
		}
		if actor.Watch {
			w, err := actorhost.Watch(actor.Path, func(module []byte) error {
				return h.UpdateActorBytes(context.Background(), actorID, module)
			}, logger)
			if err != nil {
				return err
			}
			watchers = append(watchers, w)
		}
	}

	router, err := control.NewRouter(control.RouterConfig{
		Host:      h,
		Bus:       conn,
		Store:     store,
		Providers: builtinProviders,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := router.Start(); err != nil {
		return err
	}
	defer router.Stop()

	logger.Info("weft-host ready",
		"host", h.ID(), "lattice", cfg.Lattice, "version", version)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// loadKey reads the host's signing seed, or generates an ephemeral
// identity when none is configured.
func loadKey(cfg *config.HostConfig, logger *slog.Logger) (claims.KeyPair, error) {
	if cfg.SeedFile == "" {
		key, err := claims.NewKeyPair()
		if err != nil {
			return claims.KeyPair{}, err
		}
		logger.Warn("no seed_file configured; host identity is ephemeral", "host", key.PublicKey())
		return key, nil
	}
	raw, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		return claims.KeyPair{}, fmt.Errorf("reading seed file: %w", err)
	}
	key, err := claims.ParseSeed(strings.TrimSpace(string(raw)))
	if err != nil {
		return claims.KeyPair{}, fmt.Errorf("parsing seed file %s: %w", cfg.SeedFile, err)
	}
	return key, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
