// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/autodns/dnsbot/core"
	"github.com/go-logr/logr"
)

type fakeRegistry struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeRegistry) ResolveZone(_ context.Context, parent string) (string, error) {
	return "zone-" + parent, nil
}

func (f *fakeRegistry) CreateRecord(_ context.Context, intent *core.Intent) (string, error) {
	return "rec-" + intent.CanonicalName(), nil
}

func (f *fakeRegistry) DeleteRecord(_ context.Context, fqdn string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fqdn)
	return true
}

func (f *fakeRegistry) Close() error { return nil }

func newTestAPI(t *testing.T) (*httptest.Server, *core.Ledger, *fakeRegistry) {
	t.Helper()
	ctx := context.Background()

	ledger, err := core.OpenLedger(ctx, &core.FileBackend{Path: filepath.Join(t.TempDir(), "data.json")})
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.AddSubdomain(ctx, "u1", "a.example.org"); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistry{}
	mod := &core.Moderator{Ledger: ledger, Registry: reg, Log: logr.Discard()}
	srv := httptest.NewServer(NewHandler(core.HTTPDef{Prefix: "/api", Token: "secret"}, mod, logr.Discard()))
	t.Cleanup(srv.Close)
	return srv, ledger, reg
}

func post(t *testing.T, srv *httptest.Server, req *ReqDo) (int, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/do", "application/json", bytes.NewReader(MarshalJSON(req)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, b
}

func TestAPI_RejectsBadToken(t *testing.T) {
	srv, ledger, _ := newTestAPI(t)

	code, _ := post(t, srv, &ReqDo{Token: "wrong", Op: OP_BAN, User: "u1"})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if ledger.IsBanned("u1") {
		t.Error("expected unauthorized ban to have no effect")
	}
}

func TestAPI_UserInfoAndWhois(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	code, b := post(t, srv, &ReqDo{Token: "secret", Op: OP_USERINFO, User: "u1"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, b)
	}
	info, err := DecodeJSON(bytes.NewReader(b), &RespUserInfo{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(info.Subdomains, []string{"a.example.org"}) {
		t.Errorf("unexpected subdomains %v", info.Subdomains)
	}

	code, b = post(t, srv, &ReqDo{Token: "secret", Op: OP_WHOIS, Domain: "a.example.org"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, b)
	}
	whois, err := DecodeJSON(bytes.NewReader(b), &RespWhois{})
	if err != nil {
		t.Fatal(err)
	}
	if !whois.Found || whois.Owner != "u1" {
		t.Errorf("unexpected whois %+v", whois)
	}
}

func TestAPI_Ban(t *testing.T) {
	srv, ledger, reg := newTestAPI(t)

	code, b := post(t, srv, &ReqDo{Token: "secret", Op: OP_BAN, User: "u1"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, b)
	}
	ban, err := DecodeJSON(bytes.NewReader(b), &RespBan{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ban.Deleted, []string{"a.example.org"}) {
		t.Errorf("unexpected deleted %v", ban.Deleted)
	}
	if !ledger.IsBanned("u1") || len(ledger.Subdomains("u1")) != 0 {
		t.Error("expected user banned with no subdomains")
	}
	if len(reg.deleted) != 1 {
		t.Errorf("expected one provider deletion, got %v", reg.deleted)
	}
}

func TestAPI_Admins(t *testing.T) {
	srv, ledger, _ := newTestAPI(t)

	tests := []struct {
		op      string
		changed bool
		admin   bool
	}{
		{OP_ADMIN, true, true},
		{OP_ADMIN, false, true},
		{OP_UNADMIN, true, false},
		{OP_UNADMIN, false, false},
	}
	for _, tt := range tests {
		code, b := post(t, srv, &ReqDo{Token: "secret", Op: tt.op, User: "u2"})
		if code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tt.op, code, b)
		}
		resp, err := DecodeJSON(bytes.NewReader(b), &RespAdmin{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Changed != tt.changed || ledger.IsAdmin("u2") != tt.admin {
			t.Errorf("%s: unexpected result changed=%v admin=%v", tt.op, resp.Changed, ledger.IsAdmin("u2"))
		}
	}
}

func TestAPI_WhoisNormalizes(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	_, b := post(t, srv, &ReqDo{Token: "secret", Op: OP_WHOIS, Domain: " A.Example.ORG. "})
	whois, err := DecodeJSON(bytes.NewReader(b), &RespWhois{})
	if err != nil {
		t.Fatal(err)
	}
	if !whois.Found || whois.Owner != "u1" || whois.Domain != "a.example.org" {
		t.Errorf("unexpected whois %+v", whois)
	}
}

func TestAPI_BanOutlivesRequest(t *testing.T) {
	ledger, err := core.OpenLedger(context.Background(), &core.FileBackend{Path: filepath.Join(t.TempDir(), "data.json")})
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.AddSubdomain(context.Background(), "u1", "a.example.org"); err != nil {
		t.Fatal(err)
	}
	reg := &ctxRegistry{}
	mod := &core.Moderator{Ledger: ledger, Registry: reg, Log: logr.Discard()}
	h := NewHandler(core.HTTPDef{Token: "secret"}, mod, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/do", bytes.NewReader(MarshalJSON(&ReqDo{Token: "secret", Op: OP_BAN, User: "u1"}))).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if reg.canceled {
		t.Error("expected provider deletions to ignore the client going away")
	}
	if !ledger.IsBanned("u1") {
		t.Error("expected u1 to be banned")
	}
}

// ctxRegistry remembers whether a deletion saw a canceled context.
type ctxRegistry struct {
	fakeRegistry
	canceled bool
}

func (c *ctxRegistry) DeleteRecord(ctx context.Context, fqdn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		c.canceled = true
		return false
	}
	c.deleted = append(c.deleted, fqdn)
	return true
}

func TestAPI_BadRequests(t *testing.T) {
	srv, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		req  *ReqDo
	}{
		{"unknown op", &ReqDo{Token: "secret", Op: "drop"}},
		{"userinfo without user", &ReqDo{Token: "secret", Op: OP_USERINFO}},
		{"whois without domain", &ReqDo{Token: "secret", Op: OP_WHOIS}},
		{"admin without user", &ReqDo{Token: "secret", Op: OP_ADMIN}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := post(t, srv, tt.req)
			if code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/api/v1/do")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", resp.StatusCode)
	}
}
