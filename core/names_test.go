// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"errors"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Test.Example.org ", "test.example.org"},
		{"test.example.org.", "test.example.org"},
		{"bücher", "xn--bcher-kva"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		if err != nil {
			t.Errorf("NormalizeName(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOwnLabel(t *testing.T) {
	tests := []struct {
		name  string
		label string
		ok    bool
	}{
		{"www", "www", true},
		{"_sip._tcp", "_tcp", true},
		{"_sip._tcp.alice", "alice", true},
		{"*", "", false},
		{"*.alice", "", false},
		{"x.alice", "", false},
		{"a..b", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, err := ownLabel(tt.name)
			if !tt.ok {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil || label != tt.label {
				t.Errorf("ownLabel(%q) = %q, %v; want %q", tt.name, label, err, tt.label)
			}
		})
	}
}
