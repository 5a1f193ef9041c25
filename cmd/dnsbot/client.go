// Copyright 2025 Jelly Terra <jellyterra@symboltics.com>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/autodns/dnsbot/core"
)

// errOffline means nothing answers on the operator API address.
var errOffline = errors.New("bot is not running")

// apiURL is the /v1/do endpoint of a bot listening on def.Listen.
func apiURL(def core.HTTPDef) (string, error) {
	host, port, err := net.SplitHostPort(def.Listen)
	if err != nil {
		return "", fmt.Errorf("http listen %q: %w", def.Listen, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return url.JoinPath("http://"+net.JoinHostPort(host, port), def.Prefix, "/v1/do")
}

// callAPI posts req to the bot and decodes the answer into resp.
func callAPI[T any](ctx context.Context, endpoint string, req *ReqDo, resp T) (T, error) {
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(MarshalJSON(req)))
	if err != nil {
		return resp, err
	}
	hr.Header.Set("Content-Type", "application/json")

	r, err := http.DefaultClient.Do(hr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return resp, errOffline
		}
		return resp, err
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		e, derr := DecodeJSON(bytes.NewReader(b), &struct {
			Error string `json:"error"`
		}{})
		if derr != nil || e.Error == "" {
			return resp, fmt.Errorf("operator API: %s", r.Status)
		}
		return resp, fmt.Errorf("operator API: %s", e.Error)
	}
	return DecodeJSON(r.Body, resp)
}
