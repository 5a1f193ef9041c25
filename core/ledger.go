// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Ledger records who owns which subdomain. It holds the only in-memory copy
// of the document; every mutation is written through to the backend while
// the lock is held.
type Ledger struct {
	backend Backend

	lock sync.RWMutex
	doc  *Document
}

func OpenLedger(ctx context.Context, backend Backend) (*Ledger, error) {
	doc, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	return &Ledger{backend: backend, doc: doc}, nil
}

// mutate applies fn to a copy and swaps it in only once the copy is durable.
func (l *Ledger) mutate(ctx context.Context, fn func(d *Document) bool) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	next := l.doc.Clone()
	if !fn(next) {
		return nil
	}

	err := l.backend.Save(ctx, next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	l.doc = next
	return nil
}

func (l *Ledger) IsAdmin(user string) bool {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return slices.Contains(l.doc.Admins, user)
}

func (l *Ledger) IsBanned(user string) bool {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return slices.Contains(l.doc.BannedUsers, user)
}

func (l *Ledger) Subdomains(user string) []string {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return slices.Clone(l.doc.Users[user])
}

// FindOwner scans every entry for name.
func (l *Ledger) FindOwner(name string) (string, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	for user, names := range l.doc.Users {
		if slices.Contains(names, name) {
			return user, true
		}
	}
	return "", false
}

func (l *Ledger) AddSubdomain(ctx context.Context, user, name string) error {
	return l.mutate(ctx, func(d *Document) bool {
		d.Users[user] = append(d.Users[user], name)
		return true
	})
}

// ClaimSubdomain appends name unless someone already owns it. A banned user
// gets an ErrNotAuthorized error and the ledger is left untouched.
func (l *Ledger) ClaimSubdomain(ctx context.Context, user, name string) (claimed bool, err error) {
	var refused error
	err = l.mutate(ctx, func(d *Document) bool {
		if slices.Contains(d.BannedUsers, user) {
			refused = denied("user %s is banned from creating subdomains", user)
			return false
		}
		for _, names := range d.Users {
			if slices.Contains(names, name) {
				return false
			}
		}
		d.Users[user] = append(d.Users[user], name)
		claimed = true
		return true
	})
	if err != nil {
		return false, err
	}
	if refused != nil {
		return false, refused
	}
	return claimed, nil
}

func (l *Ledger) RemoveSubdomain(ctx context.Context, user, name string) (removed bool, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		names := d.Users[user]
		i := slices.Index(names, name)
		if i < 0 {
			return false
		}
		names = slices.Delete(names, i, i+1)
		if len(names) == 0 {
			delete(d.Users, user)
		} else {
			d.Users[user] = names
		}
		removed = true
		return true
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// RemoveAllSubdomains drops the user's entry and returns what it held.
func (l *Ledger) RemoveAllSubdomains(ctx context.Context, user string) (removed []string, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		names, ok := d.Users[user]
		if !ok {
			return false
		}
		delete(d.Users, user)
		removed = names
		return true
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// AddBan reports false when the user was already banned.
func (l *Ledger) AddBan(ctx context.Context, user string) (added bool, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		if slices.Contains(d.BannedUsers, user) {
			return false
		}
		d.BannedUsers = append(d.BannedUsers, user)
		added = true
		return true
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Ban adds the user to the ban list and drops their entry in one save. Any
// claim that lost the race to it is refused, so removed is everything the
// user holds.
func (l *Ledger) Ban(ctx context.Context, user string) (added bool, removed []string, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		if !slices.Contains(d.BannedUsers, user) {
			d.BannedUsers = append(d.BannedUsers, user)
			added = true
		}
		if names, ok := d.Users[user]; ok {
			delete(d.Users, user)
			removed = names
		}
		return added || removed != nil
	})
	if err != nil {
		return false, nil, err
	}
	return added, removed, nil
}

func (l *Ledger) AddAdmin(ctx context.Context, user string) (added bool, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		if slices.Contains(d.Admins, user) {
			return false
		}
		d.Admins = append(d.Admins, user)
		added = true
		return true
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (l *Ledger) RemoveAdmin(ctx context.Context, user string) (removed bool, err error) {
	err = l.mutate(ctx, func(d *Document) bool {
		i := slices.Index(d.Admins, user)
		if i < 0 {
			return false
		}
		d.Admins = slices.Delete(d.Admins, i, i+1)
		removed = true
		return true
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Snapshot returns a copy of the current document.
func (l *Ledger) Snapshot() *Document {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.doc.Clone()
}
