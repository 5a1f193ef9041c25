// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

type Moderator struct {
	Ledger   *Ledger
	Registry Registry
	Log      logr.Logger
}

type UserInfo struct {
	User       string
	Subdomains []string
}

type BanReport struct {
	User          string
	AlreadyBanned bool
	Deleted       []string
	// Failed were dropped from the ledger but may still exist at the provider.
	Failed []string
}

func (m *Moderator) requireAdmin(actor, op string) error {
	if !m.Ledger.IsAdmin(actor) {
		m.Log.Info("rejected moderation request", "actor", actor, "op", op)
		return denied("%s requires bot admin", op)
	}
	return nil
}

// List is self-service and never fails.
func (m *Moderator) List(requester string) []string {
	return m.Ledger.Subdomains(requester)
}

func (m *Moderator) UserInfo(actor, target string) (*UserInfo, error) {
	err := m.requireAdmin(actor, "userinfo")
	if err != nil {
		return nil, err
	}
	return &UserInfo{User: target, Subdomains: m.Ledger.Subdomains(target)}, nil
}

func (m *Moderator) Whois(actor, fqdn string) (owner string, found bool, err error) {
	err = m.requireAdmin(actor, "whois")
	if err != nil {
		return "", false, err
	}
	fqdn, err = NormalizeName(fqdn)
	if err != nil {
		return "", false, err
	}
	owner, found = m.Ledger.FindOwner(fqdn)
	return owner, found, nil
}

func (m *Moderator) Ban(ctx context.Context, actor, target string) (*BanReport, error) {
	err := m.requireAdmin(actor, "ban")
	if err != nil {
		return nil, err
	}
	m.Log.Info("banning user", "actor", actor, "user", target)
	return m.ForceBan(ctx, target)
}

// ForceBan bans without a privilege check. The ledger entry is cleared even
// when some remote deletions fail; those names are returned in Failed.
func (m *Moderator) ForceBan(ctx context.Context, target string) (*BanReport, error) {
	added, names, err := m.Ledger.Ban(ctx, target)
	if err != nil {
		return nil, err
	}
	report := &BanReport{User: target, AlreadyBanned: !added}

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := m.Registry.DeleteRecord(ctx, name)
			lock.Lock()
			defer lock.Unlock()
			if ok {
				report.Deleted = append(report.Deleted, name)
			} else {
				report.Failed = append(report.Failed, name)
			}
		}()
	}
	wg.Wait()

	slices.Sort(report.Deleted)
	slices.Sort(report.Failed)

	for _, name := range report.Failed {
		m.Log.Error(fmt.Errorf("record deletion failed"), "ledger entry dropped while record may still exist", "user", target, "name", name)
	}
	m.Log.Info("user banned", "user", target, "deleted", len(report.Deleted), "failed", len(report.Failed))
	return report, nil
}

// Remove deletes the requester's own subdomain. The ledger entry only goes
// once the provider confirms the deletion.
func (m *Moderator) Remove(ctx context.Context, requester, fqdn string) error {
	fqdn, err := NormalizeName(fqdn)
	if err != nil {
		return err
	}
	if !slices.Contains(m.Ledger.Subdomains(requester), fqdn) {
		return denied("you don't own the subdomain %s", fqdn)
	}

	if !m.Registry.DeleteRecord(ctx, fqdn) {
		return &ProviderError{Op: "delete record", Detail: fmt.Sprintf("failed to delete subdomain %s", fqdn)}
	}

	_, err = m.Ledger.RemoveSubdomain(ctx, requester, fqdn)
	if err != nil {
		return err
	}
	m.Log.Info("subdomain removed", "user", requester, "name", fqdn)
	return nil
}
