// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
	"github.com/redis/rueidis"
)

// Document is the persisted form of the ledger.
type Document struct {
	Admins      []string            `json:"admins"`
	Users       map[string][]string `json:"users"`
	BannedUsers []string            `json:"banned_users"`
}

func NewDocument() *Document {
	return &Document{
		Admins:      []string{},
		Users:       map[string][]string{},
		BannedUsers: []string{},
	}
}

func (d *Document) Clone() *Document {
	c := &Document{
		Admins:      slices.Clone(d.Admins),
		Users:       make(map[string][]string, len(d.Users)),
		BannedUsers: slices.Clone(d.BannedUsers),
	}
	for k, v := range d.Users {
		c.Users[k] = slices.Clone(v)
	}
	return c
}

func (d *Document) normalize() {
	if d.Admins == nil {
		d.Admins = []string{}
	}
	if d.Users == nil {
		d.Users = map[string][]string{}
	}
	if d.BannedUsers == nil {
		d.BannedUsers = []string{}
	}
}

func EncodeDocument(d *Document) ([]byte, error) {
	return json.MarshalIndent(d, "", "    ")
}

func DecodeDocument(b []byte) (*Document, error) {
	d := NewDocument()
	if len(b) == 0 {
		return d, nil
	}
	err := json.Unmarshal(b, d)
	if err != nil {
		return nil, err
	}
	d.normalize()
	return d, nil
}

// Backend stores the whole document. A missing document loads as empty.
type Backend interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, d *Document) error
}

type FileBackend struct {
	Path string
}

func (f *FileBackend) Load(_ context.Context) (*Document, error) {
	b, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		return NewDocument(), nil
	default:
		return nil, err
	}
	return DecodeDocument(b)
}

// Save writes to a temporary sibling and renames it over the target.
func (f *FileBackend) Save(_ context.Context, d *Document) error {
	b, err := EncodeDocument(d)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.Path)
}

type RedisBackend struct {
	Client rueidis.Client
	Key    string
}

func (r *RedisBackend) Load(ctx context.Context) (*Document, error) {
	b, err := r.Client.Do(ctx, r.Client.B().Get().Key(r.Key).Build()).AsBytes()
	switch {
	case err == nil:
	case rueidis.IsRedisNil(err):
		return NewDocument(), nil
	default:
		return nil, fmt.Errorf("redis get %s: %w", r.Key, err)
	}
	return DecodeDocument(b)
}

func (r *RedisBackend) Save(ctx context.Context, d *Document) error {
	b, err := EncodeDocument(d)
	if err != nil {
		return err
	}
	err = r.Client.Do(ctx, r.Client.B().Set().Key(r.Key).Value(rueidis.BinaryString(b)).Build()).Error()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", r.Key, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	r.Client.Close()
	return nil
}
