// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

// mockRegistry records registry calls for test assertions.
type mockRegistry struct {
	mu sync.Mutex

	createErr  error
	failDelete map[string]bool
	block      chan struct{} // if set, CreateRecord waits on it
	entered    chan struct{} // if set, CreateRecord signals it before waiting

	created []Intent
	deleted []string
}

func (m *mockRegistry) ResolveZone(_ context.Context, parent string) (string, error) {
	return "zone-" + parent, nil
}

func (m *mockRegistry) CreateRecord(_ context.Context, intent *Intent) (string, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", NewProviderError("create record", m.createErr)
	}
	m.created = append(m.created, *intent)
	return "rec-" + intent.CanonicalName(), nil
}

func (m *mockRegistry) DeleteRecord(_ context.Context, fqdn string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fqdn)
	return !m.failDelete[fqdn]
}

func (m *mockRegistry) Close() error { return nil }

func (m *mockRegistry) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

// failingBackend accepts loads but rejects saves once fail is set.
type failingBackend struct {
	mu   sync.Mutex
	fail bool
	docs []*Document
}

func (f *failingBackend) Load(_ context.Context) (*Document, error) {
	return NewDocument(), nil
}

func (f *failingBackend) Save(_ context.Context, d *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.docs = append(f.docs, d.Clone())
	return nil
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(context.Background(), &FileBackend{Path: filepath.Join(t.TempDir(), "data.json")})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func newTestConfig(t *testing.T, extra string) *Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(`
domains:
  - name: example.org
  - name: example.net
    glob: "[a-z]{3,}"
record_types: [A, CNAME, MX, SRV]
record_features:
  MX: [priority]
  SRV: [priority, weight, port]
` + extra))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newTestManager(t *testing.T, reg Registry) (*Manager, *Ledger) {
	t.Helper()
	ledger := newTestLedger(t)
	m := NewManager(newTestConfig(t, ""), ledger, reg, logr.Discard())
	m.Timeout = time.Minute
	return m, ledger
}
