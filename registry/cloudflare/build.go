// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autodns/dnsbot/core"
	"github.com/cloudflare/cloudflare-go"
	"github.com/go-logr/logr"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultZoneCache = 5 * time.Minute

	// DefaultRateLimit matches the client library's own default of 1200 requests per 5 minutes.
	DefaultRateLimit = 4.0
)

// API is the part of *cloudflare.API the registry uses.
type API interface {
	ListZones(ctx context.Context, z ...string) ([]cloudflare.Zone, error)
	CreateDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, params cloudflare.CreateDNSRecordParams) (cloudflare.DNSRecord, error)
	ListDNSRecords(ctx context.Context, rc *cloudflare.ResourceContainer, params cloudflare.ListDNSRecordsParams) ([]cloudflare.DNSRecord, *cloudflare.ResultInfo, error)
	DeleteDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, recordID string) error
}

var _ API = (*cloudflare.API)(nil)

type Registry struct {
	API     API
	Log     logr.Logger
	Timeout time.Duration

	// Zones are zone names longer than two labels, e.g. example.co.uk.
	Zones     []string
	ZoneCache *core.Cache[string]
}

func (r *Registry) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func (r *Registry) ResolveZone(ctx context.Context, parent string) (string, error) {
	if r.ZoneCache != nil {
		if id, ok := r.ZoneCache.Get(parent); ok {
			return id, nil
		}
	}

	ctx, cancel := r.call(ctx)
	defer cancel()

	zones, err := r.API.ListZones(ctx, parent)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", core.ErrZoneNotFound, parent, err)
	}
	for _, zone := range zones {
		if zone.Name == parent {
			if r.ZoneCache != nil {
				r.ZoneCache.Set(parent, zone.ID)
			}
			return zone.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", core.ErrZoneNotFound, parent)
}

func (r *Registry) CreateRecord(ctx context.Context, intent *core.Intent) (string, error) {
	fqdn := intent.CanonicalName()
	log := r.Log.WithValues("domain", intent.Domain, "name", fqdn, "type", intent.Type)

	zoneID, err := r.ResolveZone(ctx, intent.Domain)
	if err != nil {
		log.Error(err, "failed to get zone ID")
		return "", &core.ProviderError{
			Op:     "resolve zone",
			Detail: fmt.Sprintf("Failed to get zone ID for domain %s", intent.Domain),
			Err:    err,
		}
	}

	params, err := BuildParams(intent)
	if err != nil {
		return "", &core.ProviderError{Op: "create record", Detail: err.Error(), Err: err}
	}

	ctx, cancel := r.call(ctx)
	defer cancel()

	log.Info("creating DNS record", "zone", zoneID, "content", intent.Target, "proxied", intent.Proxied)
	record, err := r.API.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		detail := r.detail(err)
		log.Error(err, "failed to create DNS record", "zone", zoneID, "detail", detail)
		return "", &core.ProviderError{Op: "create record", Detail: detail, Err: err}
	}

	log.Info("created DNS record", "zone", zoneID, "record", record.ID)
	return record.ID, nil
}

func (r *Registry) DeleteRecord(ctx context.Context, fqdn string) bool {
	zoneName := r.zoneFor(fqdn)
	log := r.Log.WithValues("domain", fqdn, "zone", zoneName)

	zoneID, err := r.ResolveZone(ctx, zoneName)
	if err != nil {
		log.Error(err, "no zone found for domain")
		return false
	}
	log = log.WithValues("zone_id", zoneID)
	rc := cloudflare.ZoneIdentifier(zoneID)

	records, err := r.listRecords(ctx, rc, fqdn)
	if err != nil {
		log.Error(err, "listing DNS records failed", "detail", r.detail(err))
		return false
	}

	var recordID string
	for _, record := range records {
		if record.Name == fqdn {
			recordID = record.ID
			break
		}
	}
	if recordID == "" {
		log.Error(errors.New("record not found"), "no DNS record found for domain")
		return false
	}

	if err := r.deleteRecord(ctx, rc, recordID); err != nil {
		log.Error(err, "failed to delete DNS record", "record", recordID, "detail", r.detail(err))
		return false
	}

	log.Info("deleted DNS record", "record", recordID)
	return true
}

// Each API call gets its own deadline.
func (r *Registry) listRecords(ctx context.Context, rc *cloudflare.ResourceContainer, fqdn string) ([]cloudflare.DNSRecord, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()

	records, _, err := r.API.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{Name: fqdn})
	return records, err
}

func (r *Registry) deleteRecord(ctx context.Context, rc *cloudflare.ResourceContainer, recordID string) error {
	ctx, cancel := r.call(ctx)
	defer cancel()

	return r.API.DeleteDNSRecord(ctx, rc, recordID)
}

func (r *Registry) Close() error { return nil }

// zoneFor picks the longest configured zone that is a suffix of fqdn, or
// the last two labels.
func (r *Registry) zoneFor(fqdn string) string {
	best := ""
	for _, zone := range r.Zones {
		if (fqdn == zone || strings.HasSuffix(fqdn, "."+zone)) && len(zone) > len(best) {
			best = zone
		}
	}
	if best != "" {
		return best
	}

	labels := strings.Split(fqdn, ".")
	if len(labels) <= 2 {
		return fqdn
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// detail turns a client error into text a user can act on.
func (r *Registry) detail(err error) string {
	var (
		netErr  net.Error
		limited *cloudflare.RatelimitError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(err.Error(), "would exceed context deadline"):
		return fmt.Sprintf("request timed out after %s", r.Timeout)

	// With retries disabled a 429 surfaces as a bare error without the body.
	case errors.As(err, &limited),
		strings.Contains(err.Error(), "rate limit"):
		return "Cloudflare rate limited the request, try again in a minute"
	}
	return err.Error()
}

// BuildParams maps an intent to a Cloudflare record. Extra features become
// the priority field or entries of the record's data object.
func BuildParams(intent *core.Intent) (cloudflare.CreateDNSRecordParams, error) {
	proxied := intent.Proxied
	params := cloudflare.CreateDNSRecordParams{
		Type:    intent.Type,
		Name:    intent.CanonicalName(),
		Content: intent.Target,
		Proxied: &proxied,
		TTL:     1, // automatic
	}
	if len(intent.Features) == 0 {
		return params, nil
	}

	data := map[string]any{}
	for name, value := range intent.Features {
		var v any = value
		if n, err := strconv.ParseUint(value, 10, 16); err == nil {
			v = n
		}

		if name == "priority" && intent.Type == "MX" {
			n, ok := v.(uint64)
			if !ok {
				return params, fmt.Errorf("priority %q is not a number", value)
			}
			p := uint16(n)
			params.Priority = &p
			continue
		}
		data[name] = v
	}

	if intent.Type == "SRV" {
		if _, ok := data["target"]; !ok {
			data["target"] = intent.Target
		}
	}
	if len(data) > 0 {
		params.Data = data
	}
	return params, nil
}

func Build(log logr.Logger, config map[string]string) (core.Registry, error) {
	var (
		apiToken = config["api_token"]
		baseURL  = config["base_url"]
	)
	if apiToken == "" {
		return nil, fmt.Errorf("cloudflare: require [api_token]")
	}

	timeout := DefaultTimeout
	if v := config["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: invalid timeout %q: %w", v, err)
		}
		timeout = d
	}

	zoneCache := DefaultZoneCache
	if v := config["zone_cache"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: invalid zone_cache %q: %w", v, err)
		}
		zoneCache = d
	}

	rateLimit := DefaultRateLimit
	if v := config["rate_limit"]; v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("cloudflare: invalid rate_limit %q", v)
		}
		rateLimit = n
	}
	// A call may wait one limiter interval before it is sent.
	if interval := time.Duration(float64(time.Second) / rateLimit); timeout > 0 && timeout <= interval {
		return nil, fmt.Errorf("cloudflare: timeout %s must exceed the rate limit interval %s", timeout, interval)
	}

	var zones []string
	for _, zone := range strings.Split(config["zones"], ",") {
		zone = strings.TrimSpace(zone)
		if zone != "" {
			zones = append(zones, zone)
		}
	}

	opts := []cloudflare.Option{
		cloudflare.HTTPClient(&http.Client{Timeout: timeout}),
		// Creates must not be retried.
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.UsingRateLimit(rateLimit),
	}
	if baseURL != "" {
		opts = append(opts, cloudflare.BaseURL(baseURL))
	}

	api, err := cloudflare.NewWithAPIToken(apiToken, opts...)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		API:     api,
		Log:     log,
		Timeout: timeout,
		Zones:   zones,
	}
	if zoneCache > 0 {
		r.ZoneCache = core.NewCache[string](zoneCache)
	}
	return r, nil
}

func init() {
	core.RegistryBuilders["cloudflare"] = Build
}
