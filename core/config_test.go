// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"reflect"
	"testing"
	"time"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("domains:\n  - name: Example.ORG.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SessionTimeout != DefaultSessionTimeout {
		t.Errorf("expected default timeout, got %s", cfg.SessionTimeout)
	}
	if cfg.Registry.Builder != "cloudflare" || cfg.Ledger.Backend != "file" || cfg.Ledger.Path != "data.json" {
		t.Errorf("unexpected defaults %+v %+v", cfg.Registry, cfg.Ledger)
	}
	if !reflect.DeepEqual(cfg.RecordTypes, []string{"A", "AAAA", "CNAME", "TXT"}) {
		t.Errorf("unexpected record types %v", cfg.RecordTypes)
	}
	if !reflect.DeepEqual(cfg.DomainNames(), []string{"example.org"}) {
		t.Errorf("expected normalized domain name, got %v", cfg.DomainNames())
	}
}

func TestParseConfig_Full(t *testing.T) {
	t.Setenv("DNSBOT_CF_TOKEN", "secret")
	t.Setenv("DNSBOT_DISCORD_TOKEN", "bot-token")

	cfg, err := ParseConfig([]byte(`
discord:
  token: ${DNSBOT_DISCORD_TOKEN}
  app_id: "123"
registry:
  builder: cloudflare
  builder_params:
    api_token: ${DNSBOT_CF_TOKEN}
ledger:
  backend: redis
  redis_addr: 10.0.0.1:6379
session_timeout: 2m
domains:
  - name: example.org
    glob: "[a-z0-9-]+"
record_types: [a, mx]
record_features:
  mx: [priority]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Discord.Token != "bot-token" || cfg.Registry.BuilderParams["api_token"] != "secret" {
		t.Error("expected secrets to be expanded from the environment")
	}
	if cfg.SessionTimeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %s", cfg.SessionTimeout)
	}
	if cfg.Ledger.RedisKey != "dnsbot:ledger" {
		t.Errorf("expected default redis key, got %q", cfg.Ledger.RedisKey)
	}
	if !cfg.HasRecordType("MX") || cfg.HasRecordType("mx") {
		t.Error("expected record types to be uppercased")
	}
	if !reflect.DeepEqual(cfg.Features("MX"), []string{"priority"}) {
		t.Errorf("unexpected MX features %v", cfg.Features("MX"))
	}
	if cfg.Features("A") != nil {
		t.Errorf("expected no A features, got %v", cfg.Features("A"))
	}
	d, ok := cfg.Domain("example.org")
	if !ok || d.Glob != "[a-z0-9-]+" {
		t.Errorf("unexpected domain %+v", d)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no domains", "record_types: [A]\n"},
		{"bare label", "domains: [{name: localhost}]\n"},
		{"bad glob", "domains: [{name: example.org, glob: \"[a-\"}]\n"},
		{"unknown record type", "domains: [{name: example.org}]\nrecord_types: [BOGUS]\n"},
		{"feature for unlisted type", "domains: [{name: example.org}]\nrecord_types: [A]\nrecord_features: {MX: [priority]}\n"},
		{"empty feature", "domains: [{name: example.org}]\nrecord_types: [MX]\nrecord_features: {MX: [\"\"]}\n"},
		{"unknown backend", "domains: [{name: example.org}]\nledger: {backend: sqlite}\n"},
		{"bad yaml", "domains: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
