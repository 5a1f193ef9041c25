// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"io"

	"github.com/goccy/go-json"
)

const maxRequestBody = 64 << 10

func MarshalJSON[T any](v T) []byte {
	data, _ := json.Marshal(v)
	return data
}

// DecodeJSON reads one object from r into v. Unknown fields are rejected.
func DecodeJSON[T any](r io.Reader, v T) (T, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	dec.DisallowUnknownFields()
	return v, dec.Decode(v)
}
