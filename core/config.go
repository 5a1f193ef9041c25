// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.yaml.in/yaml/v3"
	"golang.org/x/net/idna"
)

const DefaultSessionTimeout = 60 * time.Second

type RegistryDef struct {
	Builder       string            `yaml:"builder"`
	BuilderParams map[string]string `yaml:"builder_params"`
}

// ManagedDomainDef is a parent domain users may register labels under. An
// empty Glob accepts any label.
type ManagedDomainDef struct {
	Name string `yaml:"name"`
	Glob string `yaml:"glob"`
}

type DiscordDef struct {
	Token   string `yaml:"token"`
	AppID   string `yaml:"app_id"`
	GuildID string `yaml:"guild_id"`
}

type LedgerDef struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	RedisKey  string `yaml:"redis_key"`
}

type LogDef struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

type HTTPDef struct {
	Listen string `yaml:"listen"`
	Prefix string `yaml:"prefix"`
	Token  string `yaml:"token"`
}

type Config struct {
	Discord  DiscordDef  `yaml:"discord"`
	Registry RegistryDef `yaml:"registry"`
	Ledger   LedgerDef   `yaml:"ledger"`
	Log      LogDef      `yaml:"log"`
	HTTP     HTTPDef     `yaml:"http"`

	SessionTimeout time.Duration       `yaml:"session_timeout"`
	Domains        []ManagedDomainDef  `yaml:"domains"`
	RecordTypes    []string            `yaml:"record_types"`
	RecordFeatures map[string][]string `yaml:"record_features"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Secrets come from the environment as ${VAR}.
	cfg.Discord.Token = os.ExpandEnv(cfg.Discord.Token)
	cfg.HTTP.Token = os.ExpandEnv(cfg.HTTP.Token)
	cfg.Ledger.RedisAddr = os.ExpandEnv(cfg.Ledger.RedisAddr)
	for k, v := range cfg.Registry.BuilderParams {
		cfg.Registry.BuilderParams[k] = os.ExpandEnv(v)
	}

	err = cfg.setDefaults()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() error {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.Registry.Builder == "" {
		c.Registry.Builder = "cloudflare"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "file"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data.json"
	}
	if c.Ledger.RedisAddr == "" {
		c.Ledger.RedisAddr = "[::1]:6379"
	}
	if c.Ledger.RedisKey == "" {
		c.Ledger.RedisKey = "dnsbot:ledger"
	}
	if c.HTTP.Prefix == "" {
		c.HTTP.Prefix = "/"
	}
	if len(c.RecordTypes) == 0 {
		c.RecordTypes = []string{"A", "AAAA", "CNAME", "TXT"}
	}

	switch c.Ledger.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	if len(c.Domains) == 0 {
		return fmt.Errorf("config: at least one entry in `domains` is required")
	}
	for i := range c.Domains {
		d := &c.Domains[i]
		name, err := idna.ToASCII(strings.ToLower(strings.TrimSuffix(d.Name, ".")))
		if err != nil {
			return fmt.Errorf("config: domain %q: %v", d.Name, err)
		}
		if _, ok := dns.IsDomainName(name); !ok || !strings.Contains(name, ".") {
			return fmt.Errorf("config: %q is not a valid parent domain", d.Name)
		}
		d.Name = name
		if d.Glob != "" {
			_, err = CompileGlob(d.Glob)
			if err != nil {
				return fmt.Errorf("config: glob for %s: %v", d.Name, err)
			}
		}
	}

	for i, t := range c.RecordTypes {
		t = strings.ToUpper(t)
		if _, ok := dns.StringToType[t]; !ok {
			return fmt.Errorf("config: unknown record type %q", t)
		}
		c.RecordTypes[i] = t
	}

	features := make(map[string][]string, len(c.RecordFeatures))
	for t, names := range c.RecordFeatures {
		t = strings.ToUpper(t)
		if !slices.Contains(c.RecordTypes, t) {
			return fmt.Errorf("config: record_features names %s which is not in record_types", t)
		}
		for _, name := range names {
			if name == "" {
				return fmt.Errorf("config: empty feature name for %s", t)
			}
		}
		features[t] = names
	}
	c.RecordFeatures = features

	return nil
}

func (c *Config) Domain(name string) (*ManagedDomainDef, bool) {
	for i := range c.Domains {
		if c.Domains[i].Name == name {
			return &c.Domains[i], true
		}
	}
	return nil, false
}

func (c *Config) DomainNames() []string {
	names := make([]string, len(c.Domains))
	for i, d := range c.Domains {
		names[i] = d.Name
	}
	return names
}

func (c *Config) HasRecordType(t string) bool {
	return slices.Contains(c.RecordTypes, t)
}

// Features lists the extra fields a record type needs, in entry order.
func (c *Config) Features(recordType string) []string {
	return c.RecordFeatures[recordType]
}
