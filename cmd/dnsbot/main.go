// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/autodns/dnsbot/core"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	_ "github.com/autodns/dnsbot/registry/cloudflare"
)

var (
	configPath = flag.String("config", "config.yaml", "Bot configuration file location.")

	asBot = flag.Bool("bot", false, "Run the chat bot.")

	asOperator = flag.Bool("operate", false, "Run as operator. -admin, -unadmin and -ban go through the bot's HTTP API when http.listen is set, and refuse to write a ledger a running bot holds.")

	opQuery   = flag.Bool("query", false, "Print the whole ledger.")
	opAdmin   = flag.String("admin", "", "Grant bot admin to the user ID.")
	opUnadmin = flag.String("unadmin", "", "Revoke bot admin from the user ID.")
	opBan     = flag.String("ban", "", "Ban the user ID and delete every subdomain it owns.")
	opWhois   = flag.String("whois", "", "Print the owner of the subdomain.")
	opUser    = flag.String("user", "", "Print the subdomains owned by the user ID.")

	debug = flag.Bool("debug", false, "Enable debug logging.")

	signalC = make(chan os.Signal, 1)
)

func newLogger(def core.LogDef) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if *debug || def.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	if def.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, def.File)
	}

	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func main() {
	flag.Parse()

	signal.Notify(signalC, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	log, sync, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Println("Building logger failed:", err)
		os.Exit(1)
	}
	defer sync()

	switch {
	case *asOperator:
		err = _operator(cfg, log)
	case *asBot:
		err = _bot(cfg, log)
	default:
		flag.Usage()
	}
	if err != nil {
		fmt.Println(err)
		sync()
		os.Exit(1)
	}
}
