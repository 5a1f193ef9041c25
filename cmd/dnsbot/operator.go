// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autodns/dnsbot/core"
	"github.com/go-logr/logr"
)

// mutation is the write the operator flags ask for, if any.
func mutation() *ReqDo {
	switch {
	case *opBan != "":
		return &ReqDo{Op: OP_BAN, User: *opBan}
	case *opAdmin != "":
		return &ReqDo{Op: OP_ADMIN, User: *opAdmin}
	case *opUnadmin != "":
		return &ReqDo{Op: OP_UNADMIN, User: *opUnadmin}
	}
	return nil
}

func _operator(cfg *core.Config, log logr.Logger) error {
	ctx := context.Background()

	req := mutation()
	if req != nil && cfg.HTTP.Listen != "" {
		// A running bot owns the ledger, so writes go through it.
		endpoint, err := apiURL(cfg.HTTP)
		if err != nil {
			return err
		}
		req.Token = cfg.HTTP.Token
		err = remoteMutation(ctx, endpoint, req)
		if !errors.Is(err, errOffline) {
			return err
		}
		log.Info("bot API unreachable, writing the ledger directly", "endpoint", endpoint)
	}
	if req != nil {
		return localMutation(ctx, cfg, log, req)
	}

	// Reads do not take the ledger lock.
	backend, err := openBackend(ctx, cfg.Ledger, log.WithName("ledger"))
	if err != nil {
		return err
	}
	if r, ok := backend.(*core.RedisBackend); ok {
		defer r.Close()
	}

	ledger, err := core.OpenLedger(ctx, backend)
	if err != nil {
		return err
	}

	switch {
	case *opWhois != "":
		name, err := core.NormalizeName(*opWhois)
		if err != nil {
			return err
		}
		owner, ok := ledger.FindOwner(name)
		if !ok {
			return fmt.Errorf("subdomain %s is not registered", name)
		}
		fmt.Println(owner)

	case *opUser != "":
		for _, name := range ledger.Subdomains(*opUser) {
			fmt.Println(name)
		}

	case *opQuery:
		b, err := core.EncodeDocument(ledger.Snapshot())
		if err != nil {
			return err
		}
		fmt.Println(string(b))

	default:
		fmt.Println("Nothing to do. For more operations edit the ledger with the bot stopped.")
	}

	return nil
}

func remoteMutation(ctx context.Context, endpoint string, req *ReqDo) error {
	switch req.Op {
	case OP_BAN:
		resp, err := callAPI(ctx, endpoint, req, &RespBan{})
		if err != nil {
			return err
		}
		printBan(&core.BanReport{User: resp.User, AlreadyBanned: resp.AlreadyBanned, Deleted: resp.Deleted, Failed: resp.Failed})
	default:
		resp, err := callAPI(ctx, endpoint, req, &RespAdmin{})
		if err != nil {
			return err
		}
		return printAdmin(req.Op, resp.User, resp.Changed)
	}
	return nil
}

// localMutation writes the ledger itself. It fails with core.ErrLocked while
// a bot holds the ledger.
func localMutation(ctx context.Context, cfg *core.Config, log logr.Logger, req *ReqDo) error {
	if req.Op == OP_BAN {
		app, err := assemble(ctx, cfg, "operator", log)
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.Moderator.ForceBan(ctx, req.User)
		if err != nil {
			return err
		}
		printBan(report)
		return nil
	}

	ledger, closer, err := openLedger(ctx, cfg.Ledger, "operator", log.WithName("ledger"))
	if err != nil {
		return err
	}
	defer closer()

	var changed bool
	if req.Op == OP_ADMIN {
		changed, err = ledger.AddAdmin(ctx, req.User)
	} else {
		changed, err = ledger.RemoveAdmin(ctx, req.User)
	}
	if err != nil {
		return err
	}
	return printAdmin(req.Op, req.User, changed)
}

func printBan(report *core.BanReport) {
	if report.AlreadyBanned {
		fmt.Println("User", report.User, "was already banned.")
	}
	fmt.Println("Deleted:", strings.Join(report.Deleted, ", "))
	if len(report.Failed) > 0 {
		fmt.Println("Failed to delete, remove by hand:", strings.Join(report.Failed, ", "))
	}
}

func printAdmin(op, user string, changed bool) error {
	switch {
	case op == OP_ADMIN && !changed:
		fmt.Println("User", user, "is already a bot admin.")
	case op == OP_ADMIN:
		fmt.Println("User", user, "is now a bot admin.")
	case !changed:
		return fmt.Errorf("user %s is not a bot admin", user)
	default:
		fmt.Println("User", user, "is no longer a bot admin.")
	}
	return nil
}
