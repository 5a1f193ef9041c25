// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

// Intent is the record a finished session asks the registry to create.
type Intent struct {
	Domain   string
	Type     string
	Name     string
	Target   string
	Proxied  bool
	Features map[string]string
}

// CanonicalName joins the label and the parent domain.
func (i *Intent) CanonicalName() string {
	return i.Name + "." + i.Domain
}

var ErrZoneNotFound = errors.New("zone not found")

// ProviderError carries what the DNS provider said when a call failed.
type ProviderError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Detail == "" && e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Detail
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(op string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Op: op, Detail: err.Error(), Err: err}
}

type Registry interface {
	ResolveZone(ctx context.Context, parent string) (string, error)
	// CreateRecord returns the provider's record id. Errors are *ProviderError.
	CreateRecord(ctx context.Context, intent *Intent) (string, error)
	// DeleteRecord deletes the first record named fqdn and reports whether it did.
	DeleteRecord(ctx context.Context, fqdn string) bool
	Close() error
}

type RegistryBuilder func(log logr.Logger, config map[string]string) (Registry, error)

var RegistryBuilders = map[string]RegistryBuilder{}

func BuildRegistry(def RegistryDef, log logr.Logger) (Registry, error) {
	if def.Builder == "" {
		return nil, fmt.Errorf("undefined registry builder: key `builder` should be specified")
	}

	builder, ok := RegistryBuilders[def.Builder]
	if !ok {
		return nil, fmt.Errorf("no registry builder called %s found", def.Builder)
	}

	return builder(log, def.BuilderParams)
}
