// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/autodns/dnsbot/core"
)

func TestAPIURL(t *testing.T) {
	tests := []struct {
		def  core.HTTPDef
		want string
	}{
		{core.HTTPDef{Listen: ":8080"}, "http://localhost:8080/v1/do"},
		{core.HTTPDef{Listen: "0.0.0.0:8080", Prefix: "/"}, "http://localhost:8080/v1/do"},
		{core.HTTPDef{Listen: "127.0.0.1:9000", Prefix: "/api"}, "http://127.0.0.1:9000/api/v1/do"},
	}
	for _, tt := range tests {
		got, err := apiURL(tt.def)
		if err != nil {
			t.Errorf("apiURL(%+v): %v", tt.def, err)
			continue
		}
		if got != tt.want {
			t.Errorf("apiURL(%+v) = %q, want %q", tt.def, got, tt.want)
		}
	}

	if _, err := apiURL(core.HTTPDef{Listen: "nonsense"}); err == nil {
		t.Error("expected error for listen address without port")
	}
}

func TestRemoteMutation(t *testing.T) {
	srv, ledger, reg := newTestAPI(t)
	endpoint := srv.URL + "/api/v1/do"

	if err := remoteMutation(context.Background(), endpoint, &ReqDo{Token: "secret", Op: OP_ADMIN, User: "u2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ledger.IsAdmin("u2") {
		t.Error("expected the running bot's ledger to hold the new admin")
	}

	if err := remoteMutation(context.Background(), endpoint, &ReqDo{Token: "secret", Op: OP_BAN, User: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ledger.IsBanned("u1") || len(reg.deleted) != 1 {
		t.Error("expected the ban to run inside the bot")
	}

	err := remoteMutation(context.Background(), endpoint, &ReqDo{Token: "wrong", Op: OP_ADMIN, User: "u3"})
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected the API error to surface, got %v", err)
	}
}

func TestRemoteMutation_Offline(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	err = remoteMutation(context.Background(), "http://"+addr+"/v1/do", &ReqDo{Op: OP_ADMIN, User: "u1"})
	if !errors.Is(err, errOffline) {
		t.Errorf("expected errOffline, got %v", err)
	}
}
