// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

// weft-ctl issues one control-plane command against an embedded lattice
// node and prints the result. The node is booted in-process from the
// same config file weft-host uses; the bus.Connection seam is where a
// networked broker client would replace the in-process bus.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/weft-foundation/weft/bus"
	"github.com/weft-foundation/weft/chunk"
	"github.com/weft-foundation/weft/control"
	"github.com/weft-foundation/weft/host"
	"github.com/weft-foundation/weft/kvstore"
	"github.com/weft-foundation/weft/lib/claims"
	"github.com/weft-foundation/weft/lib/clock"
	"github.com/weft-foundation/weft/lib/config"
	"github.com/weft-foundation/weft/lib/entity"
	"github.com/weft-foundation/weft/links"
	"github.com/weft-foundation/weft/provider"
	"github.com/weft-foundation/weft/provider/keyvalue"
)

const version = "0.1.0"

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
		window      time.Duration
		timeout     time.Duration
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("weft-ctl", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "host config file (or set "+config.EnvVar+")")
	flagSet.DurationVar(&window, "window", control.DefaultWindow, "collection window for ping and auctions")
	flagSet.DurationVar(&timeout, "timeout", control.DefaultTimeout, "per-command reply timeout")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("weft-ctl %s\n", version)
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), timeout+window+30*time.Second)
	defer cancel()

	node, err := bootNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer node.close()

	client := control.NewClient(cfg.Lattice, node.conn, clock.Real())
	client.SetTimeout(timeout)
	return dispatch(ctx, client, node, args, window)
}

// node is the embedded lattice host the command runs against.
type node struct {
	conn   bus.Connection
	host   *host.Host
	router *control.Router
	store  *kvstore.Store
}

func (n *node) close() {
	n.router.Stop()
	n.host.Stop(context.Background())
	if n.store != nil {
		n.store.Close()
	}
}

func bootNode(ctx context.Context, cfg *config.HostConfig, logger *slog.Logger) (*node, error) {
	key, err := claims.NewKeyPair()
	if err != nil {
		return nil, err
	}

	var store *kvstore.Store
	var chunks chunk.Store
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		store, err = kvstore.Open(kvstore.Config{Path: cfg.StorePath(), Logger: logger})
		if err != nil {
			return nil, err
		}
		compression, err := chunk.ParseCompression(cfg.Compression)
		if err != nil {
			return nil, err
		}
		chunks, err = chunk.NewFSStore(chunk.FSConfig{
			Root:        cfg.ChunkDir(),
			Compression: compression,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
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
		return nil, err
	}
	if err := h.Start(ctx); err != nil {
		return nil, err
	}

	for _, p := range cfg.Providers {
		factory, ok := builtinProviders[p.ContractID]
		if !ok {
			return nil, fmt.Errorf("no built-in provider for contract %q", p.ContractID)
		}
		providerEntity := entity.Provider(p.ProviderID, p.ContractID, p.LinkName)
		if err := h.RegisterProvider(ctx, providerEntity, factory()); err != nil {
			return nil, err
		}
	}
	for _, actor := range cfg.Actors {
		actorID, err := h.StartActor(ctx, actor.Path)
		if err != nil {
			return nil, fmt.Errorf("starting %s: %w", actor.Path, err)
		}
		if actor.Replicas > 1 {
			if err := h.ScaleActor(ctx, actorID, actor.Replicas); err != nil {
				return nil, err
			}
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
		return nil, err
	}
	if err := router.Start(); err != nil {
		return nil, err
	}
	return &node{conn: conn, host: h, router: router, store: store}, nil
}

func dispatch(ctx context.Context, client *control.Client, n *node, args []string, window time.Duration) error {
	hostID := n.host.ID()
	switch args[0] {
	case "ping":
		pongs, err := client.Ping(window)
		if err != nil {
			return err
		}
		sort.Slice(pongs, func(i, j int) bool { return pongs[i].HostID < pongs[j].HostID })
		return printJSON(pongs)

	case "inventory":
		inv, err := client.Inventory(ctx, hostID)
		if err != nil {
			return err
		}
		return printJSON(inv)

	case "actor":
		return dispatchActor(ctx, client, hostID, args[1:])

	case "provider":
		return dispatchProvider(ctx, client, hostID, args[1:])

	case "auction":
		return dispatchAuction(client, args[1:], window)

	case "link":
		return dispatchLink(ctx, client, args[1:])

	case "label":
		switch {
		case len(args) == 4 && args[1] == "put":
			return client.PutLabel(ctx, hostID, args[2], args[3])
		case len(args) == 3 && args[1] == "del":
			return client.DeleteLabel(ctx, hostID, args[2])
		}
		return usageError("label put <key> <value> | label del <key>")

	case "config":
		return dispatchConfig(ctx, client, hostID, args[1:])

	case "claims":
		if len(args) != 2 || args[1] != "get" {
			return usageError("claims get")
		}
		all, err := client.Claims(ctx)
		if err != nil {
			return err
		}
		return printJSON(all)
	}
	return usageError("unknown command %q", args[0])
}

func dispatchActor(ctx context.Context, client *control.Client, hostID string, args []string) error {
	switch {
	case len(args) >= 2 && args[0] == "start":
		replicas := 1
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("replicas: %w", err)
			}
			replicas = n
		}
		actorID, err := client.StartActor(ctx, hostID, args[1], replicas)
		if err != nil {
			return err
		}
		fmt.Println(actorID)
		return nil
	case len(args) == 2 && args[0] == "stop":
		return client.StopActor(ctx, hostID, args[1])
	case len(args) == 3 && args[0] == "update":
		return client.UpdateActor(ctx, hostID, args[1], args[2])
	case len(args) == 3 && args[0] == "scale":
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("replicas: %w", err)
		}
		return client.ScaleActor(ctx, hostID, args[1], n)
	}
	return usageError("actor start <path> [replicas] | stop <id> | update <id> <path> | scale <id> <replicas>")
}

func dispatchProvider(ctx context.Context, client *control.Client, hostID string, args []string) error {
	if len(args) != 4 || (args[0] != "start" && args[0] != "stop") {
		return usageError("provider {start|stop} <provider-id> <contract-id> <link-name>")
	}
	cmd := control.ProviderCommand{
		ProviderID: args[1],
		ContractID: args[2],
		LinkName:   args[3],
	}
	if args[0] == "start" {
		return client.StartProvider(ctx, hostID, cmd)
	}
	return client.StopProvider(ctx, hostID, cmd)
}

func dispatchAuction(client *control.Client, args []string, window time.Duration) error {
	switch {
	case len(args) >= 2 && args[0] == "actor":
		constraints, err := parseConstraints(args[2:])
		if err != nil {
			return err
		}
		bids, err := client.AuctionActor(control.ActorAuction{
			ActorID:     args[1],
			Constraints: constraints,
		}, window)
		if err != nil {
			return err
		}
		return printJSON(bids)
	case len(args) >= 4 && args[0] == "provider":
		constraints, err := parseConstraints(args[4:])
		if err != nil {
			return err
		}
		bids, err := client.AuctionProvider(control.ProviderAuction{
			ProviderID:  args[1],
			ContractID:  args[2],
			LinkName:    args[3],
			Constraints: constraints,
		}, window)
		if err != nil {
			return err
		}
		return printJSON(bids)
	}
	return usageError("auction actor <id> [k=v ...] | auction provider <id> <contract> <link> [k=v ...]")
}

func dispatchLink(ctx context.Context, client *control.Client, args []string) error {
	switch {
	case len(args) >= 5 && args[0] == "put":
		values, err := parseConstraints(args[5:])
		if err != nil {
			return err
		}
		return client.PutLink(ctx, links.Definition{
			ActorID:    args[1],
			ProviderID: args[2],
			ContractID: args[3],
			LinkName:   args[4],
			Values:     values,
		})
	case len(args) == 4 && args[0] == "del":
		return client.DeleteLink(ctx, links.Definition{
			ActorID:    args[1],
			ContractID: args[2],
			LinkName:   args[3],
		})
	case len(args) == 1 && args[0] == "get":
		defs, err := client.Links(ctx)
		if err != nil {
			return err
		}
		return printJSON(defs)
	}
	return usageError("link put <actor> <provider> <contract> <link> [k=v ...] | del <actor> <contract> <link> | get")
}

func dispatchConfig(ctx context.Context, client *control.Client, hostID string, args []string) error {
	switch {
	case len(args) == 2 && args[0] == "get":
		value, err := client.GetConfig(ctx, hostID, args[1])
		if err != nil {
			return err
		}
		os.Stdout.Write(value)
		fmt.Println()
		return nil
	case len(args) == 3 && args[0] == "put":
		return client.PutConfig(ctx, hostID, args[1], []byte(args[2]))
	case len(args) == 2 && args[0] == "del":
		return client.DeleteConfig(ctx, hostID, args[1])
	}
	return usageError("config get <key> | put <key> <value> | del <key>")
}

// parseConstraints turns trailing k=v arguments into a label map.
func parseConstraints(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[key] = value
	}
	return out, nil
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("usage: weft-ctl "+format, args...)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Weft lattice control tool.

Boots a lattice node from the given config file and issues one
control-plane command against it.

Usage:
  weft-ctl [flags] <command> [args]

Commands:
  ping                                              survey lattice hosts
  inventory                                         host inventory snapshot
  actor start <path> [replicas]                     start an actor module
  actor stop <actor-id>                             stop an actor
  actor update <actor-id> <path>                    live-update an actor
  actor scale <actor-id> <replicas>                 set replica count
  provider start <id> <contract> <link>             start a built-in provider
  provider stop <id> <contract> <link>              stop a provider
  auction actor <actor-id> [k=v ...]                collect placement bids
  auction provider <id> <contract> <link> [k=v ...] collect placement bids
  link put <actor> <provider> <contract> <link> [k=v ...]
  link del <actor> <contract> <link>
  link get                                          list link definitions
  label put <key> <value>                           set a host label
  label del <key>                                   remove a host label
  config get|put|del <key> [value]                  lattice config values
  claims get                                        advertised actor claims

Flags:
%s`, flagSet.FlagUsages())
}
