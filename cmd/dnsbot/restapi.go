// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/autodns/dnsbot/core"
	"github.com/go-logr/logr"
)

const (
	OP_USERINFO = "userinfo"
	OP_WHOIS    = "whois"
	OP_BAN      = "ban"
	OP_ADMIN    = "admin"
	OP_UNADMIN  = "unadmin"
)

// HandleWrap writes resp as JSON. err is reported to the client, iErr only
// to the log.
func HandleWrap(log logr.Logger, handler func(r *http.Request) (resp any, code int, err error, iErr error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		resp, code, err, iErr := handler(r)
		switch {
		case iErr != nil:
			w.WriteHeader(http.StatusInternalServerError)
			log.Error(iErr, "request failed", "path", r.URL.Path)
		case err != nil:
			if code != 0 {
				w.WriteHeader(code)
			} else {
				w.WriteHeader(http.StatusBadRequest)
			}
			_, _ = w.Write(MarshalJSON(&struct {
				Error string `json:"error"`
			}{
				Error: err.Error(),
			}))
		case resp != nil:
			_, _ = w.Write(MarshalJSON(resp))
		default:
			_, _ = w.Write([]byte("{}"))
		}
	}
}

type ReqDo struct {
	Token string `json:"token"`
	Op    string `json:"op"`

	User   string `json:"user"`
	Domain string `json:"domain"`
}

type RespUserInfo struct {
	User       string   `json:"user"`
	Subdomains []string `json:"subdomains"`
}

type RespWhois struct {
	Domain string `json:"domain"`
	Owner  string `json:"owner,omitempty"`
	Found  bool   `json:"found"`
}

type RespAdmin struct {
	User    string `json:"user"`
	Changed bool   `json:"changed"`
}

type RespBan struct {
	User          string   `json:"user"`
	AlreadyBanned bool     `json:"already_banned"`
	Deleted       []string `json:"deleted"`
	Failed        []string `json:"failed"`
}

func NewHandler(def core.HTTPDef, mod *core.Moderator, log logr.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path.Join(def.Prefix, "/v1/do"), HandleWrap(log, func(r *http.Request) (any, int, error, error) {
		if r.Method != http.MethodPost {
			return nil, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method), nil
		}

		req, err := DecodeJSON(r.Body, &ReqDo{})
		if err != nil {
			return nil, 0, err, nil
		}

		if def.Token == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(def.Token)) != 1 {
			return nil, http.StatusUnauthorized, fmt.Errorf("invalid token"), nil
		}

		switch req.Op {
		case OP_USERINFO:
			if req.User == "" {
				return nil, 0, fmt.Errorf("require [user]"), nil
			}
			return &RespUserInfo{User: req.User, Subdomains: mod.Ledger.Subdomains(req.User)}, 0, nil, nil

		case OP_WHOIS:
			if req.Domain == "" {
				return nil, 0, fmt.Errorf("require [domain]"), nil
			}
			domain, err := core.NormalizeName(req.Domain)
			if err != nil {
				return nil, 0, err, nil
			}
			owner, found := mod.Ledger.FindOwner(domain)
			return &RespWhois{Domain: domain, Owner: owner, Found: found}, 0, nil, nil

		case OP_BAN:
			if req.User == "" {
				return nil, 0, fmt.Errorf("require [user]"), nil
			}
			log.Info("operator bans user", "user", req.User, "remote", r.RemoteAddr)
			// A ban runs to completion once started.
			report, err := mod.ForceBan(context.WithoutCancel(r.Context()), req.User)
			if err != nil {
				return nil, 0, nil, err
			}
			return &RespBan{
				User:          report.User,
				AlreadyBanned: report.AlreadyBanned,
				Deleted:       report.Deleted,
				Failed:        report.Failed,
			}, 0, nil, nil

		case OP_ADMIN, OP_UNADMIN:
			if req.User == "" {
				return nil, 0, fmt.Errorf("require [user]"), nil
			}
			log.Info("operator changes bot admins", "op", req.Op, "user", req.User, "remote", r.RemoteAddr)
			ctx := context.WithoutCancel(r.Context())
			var changed bool
			if req.Op == OP_ADMIN {
				changed, err = mod.Ledger.AddAdmin(ctx, req.User)
			} else {
				changed, err = mod.Ledger.RemoveAdmin(ctx, req.User)
			}
			if err != nil {
				return nil, 0, nil, err
			}
			return &RespAdmin{User: req.User, Changed: changed}, 0, nil, nil

		default:
			return nil, 0, fmt.Errorf("unknown op %q", req.Op), nil
		}
	}))

	return mux
}

func Serve(ctx context.Context, def core.HTTPDef, mod *core.Moderator, log logr.Logger) error {
	s := http.Server{Addr: def.Listen, Handler: NewHandler(def, mod, log)}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		_ = s.Shutdown(context.Background())
	}()

	err := s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
