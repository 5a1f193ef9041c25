// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// NormalizeName trims s, lowercases it and converts it to its ASCII form.
// Every name is stored and compared in this form.
func NormalizeName(s string) (string, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
	if s == "" {
		return "", nil
	}
	name, err := idna.ToASCII(s)
	if err != nil {
		return "", invalid("%q: %v", s, err)
	}
	return name, nil
}

// ownLabel checks a name entered under a parent domain and returns the
// label the user takes ownership of. Only service labels like _sip._tcp may
// come in front of it.
func ownLabel(name string) (string, error) {
	if strings.Contains(name, "*") {
		return "", invalid("wildcards are not allowed in %q", name)
	}
	if _, ok := dns.IsDomainName(name); !ok || strings.HasPrefix(name, ".") || strings.Contains(name, "..") {
		return "", invalid("%q is not a valid subdomain name", name)
	}

	labels := strings.Split(name, ".")
	for _, label := range labels[:len(labels)-1] {
		if !strings.HasPrefix(label, "_") {
			return "", invalid("%q must be a single label, nested names are not allowed", name)
		}
	}
	return labels[len(labels)-1], nil
}
