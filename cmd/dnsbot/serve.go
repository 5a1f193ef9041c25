// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path"
	"strings"

	"github.com/autodns/dnsbot/core"
	"github.com/go-logr/logr"
	"github.com/redis/rueidis"
)

type App struct {
	Ledger    *core.Ledger
	Registry  core.Registry
	Manager   *core.Manager
	Moderator *core.Moderator

	closers []func() error
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func openBackend(ctx context.Context, def core.LedgerDef, log logr.Logger) (core.Backend, error) {
	switch def.Backend {
	case "redis":
		client, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress: []string{def.RedisAddr},
			SelectDB:    def.RedisDB,
		})
		if err != nil {
			return nil, err
		}

		log.Info("test connection to Redis", "addr", def.RedisAddr)
		err = client.Do(ctx, client.B().Ping().Build()).Error()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis server: %w", err)
		}
		return &core.RedisBackend{Client: client, Key: def.RedisKey}, nil
	default:
		return &core.FileBackend{Path: def.Path}, nil
	}
}

// registryDef fills in the zone list from the managed domains unless the
// configuration names it.
func registryDef(cfg *core.Config) core.RegistryDef {
	def := cfg.Registry
	params := maps.Clone(def.BuilderParams)
	if params == nil {
		params = map[string]string{}
	}
	if params["zones"] == "" {
		params["zones"] = strings.Join(cfg.DomainNames(), ",")
	}
	def.BuilderParams = params
	return def
}

// openLedger opens the backend and holds its lock until the returned close
// function runs.
func openLedger(ctx context.Context, def core.LedgerDef, holder string, log logr.Logger) (*core.Ledger, func() error, error) {
	backend, err := openBackend(ctx, def, log)
	if err != nil {
		return nil, nil, err
	}
	closeBackend := func() error { return nil }
	if r, ok := backend.(*core.RedisBackend); ok {
		closeBackend = r.Close
	}

	unlock, err := core.LockBackend(ctx, backend, fmt.Sprintf("%s pid %d", holder, os.Getpid()))
	if err != nil {
		_ = closeBackend()
		return nil, nil, err
	}
	closer := func() error {
		unlock()
		return closeBackend()
	}

	ledger, err := core.OpenLedger(ctx, backend)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}
	return ledger, closer, nil
}

func assemble(ctx context.Context, cfg *core.Config, holder string, log logr.Logger) (*App, error) {
	app := &App{}

	ledger, closer, err := openLedger(ctx, cfg.Ledger, holder, log.WithName("ledger"))
	if err != nil {
		return nil, err
	}
	app.Ledger = ledger
	app.closers = append(app.closers, closer)

	app.Registry, err = core.BuildRegistry(registryDef(cfg), log.WithName(cfg.Registry.Builder))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("building registry: %w", err)
	}
	app.closers = append(app.closers, app.Registry.Close)

	app.Manager = core.NewManager(cfg, app.Ledger, app.Registry, log.WithName("session"))
	app.Moderator = &core.Moderator{
		Ledger:   app.Ledger,
		Registry: app.Registry,
		Log:      log.WithName("moderation"),
	}
	return app, nil
}

func _bot(cfg *core.Config, log logr.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-signalC
		cancel()
	}()

	app, err := assemble(ctx, cfg, "bot", log)
	if err != nil {
		return err
	}
	defer app.Close()

	bot, err := NewBot(cfg, app, log.WithName("discord"))
	if err != nil {
		return err
	}
	err = bot.Open(ctx)
	if err != nil {
		return err
	}
	defer bot.Close()

	if cfg.HTTP.Listen != "" {
		go func() {
			log.Info("listen and serve on http://" + path.Join(cfg.HTTP.Listen, cfg.HTTP.Prefix) + "/")
			err := Serve(ctx, cfg.HTTP, app.Moderator, log.WithName("http"))
			if err != nil {
				log.Error(err, "operator API stopped")
				cancel()
			}
		}()
	}

	log.Info("bot is running", "domains", cfg.DomainNames(), "record_types", cfg.RecordTypes)
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
