// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/autodns/dnsbot/core"
	"github.com/bwmarrin/discordgo"
)

func TestCustomID(t *testing.T) {
	id := customID("abc", kindConfirm)
	sid, kind, ok := parseCustomID(id)
	if !ok || sid != "abc" || kind != kindConfirm {
		t.Fatalf("unexpected parse of %q: %q %q %v", id, sid, kind, ok)
	}

	for _, bad := range []string{"", "other/abc/confirm", "dnsbot/abc", "dnsbot//confirm", "dnsbot/a/b/c"} {
		if _, _, ok := parseCustomID(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

// componentIDs collects the custom ids of every component in the rows.
func componentIDs(rows []discordgo.MessageComponent) []string {
	var ids []string
	for _, c := range rows {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			switch v := rc.(type) {
			case discordgo.SelectMenu:
				ids = append(ids, v.CustomID)
			case discordgo.Button:
				ids = append(ids, v.CustomID)
			case discordgo.TextInput:
				ids = append(ids, v.CustomID)
			}
		}
	}
	return ids
}

func TestRenderView(t *testing.T) {
	tests := []struct {
		stage core.Stage
		ids   []string
		title string
	}{
		{core.StageSelectDomain, []string{"dnsbot/s/domain"}, "Subdomain Creation"},
		{core.StageSelectRecordType, []string{"dnsbot/s/type"}, "Subdomain Creation"},
		{core.StageEnterContent, []string{"dnsbot/s/content"}, "Subdomain Creation"},
		{core.StageSelectProxyStatus, []string{"dnsbot/s/proxy"}, "Subdomain Creation"},
		{core.StageReviewConfirm, []string{"dnsbot/s/confirm", "dnsbot/s/cancel"}, "Subdomain Creation"},
		{core.StageConfirmed, nil, "Subdomain Created"},
		{core.StageFailed, nil, "Subdomain Creation Failed"},
		{core.StageTimedOut, nil, "Subdomain Creation"},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			data := renderView(core.View{ID: "s", Stage: tt.stage, Domain: "example.org", Options: []string{"example.org"}}, "")
			ids := componentIDs(data.Components)
			if fmt.Sprint(ids) != fmt.Sprint(tt.ids) {
				t.Errorf("expected components %v, got %v", tt.ids, ids)
			}
			if data.Components == nil {
				t.Error("expected a non-nil component list so edits clear old components")
			}
			if data.Embeds[0].Title != tt.title {
				t.Errorf("expected title %q, got %q", tt.title, data.Embeds[0].Title)
			}
		})
	}
}

func TestRenderView_FailedShowsDetail(t *testing.T) {
	data := renderView(core.View{ID: "s", Stage: core.StageFailed, Detail: "rate limited"}, "")
	if !strings.Contains(data.Embeds[0].Description, "rate limited") {
		t.Errorf("expected detail in description, got %q", data.Embeds[0].Description)
	}
}

func TestRenderView_Note(t *testing.T) {
	data := renderView(core.View{ID: "s", Stage: core.StageEnterContent}, "name must not be empty")
	if !strings.Contains(data.Embeds[0].Description, "name must not be empty") {
		t.Errorf("expected note in description, got %q", data.Embeds[0].Description)
	}
}

func TestContentModal(t *testing.T) {
	data := contentModal(core.View{ID: "s", RecordType: "SRV", Required: []string{"priority", "weight", "port"}})
	if data.CustomID != "dnsbot/s/modal" {
		t.Errorf("unexpected modal id %q", data.CustomID)
	}
	want := []string{"name", "content", "feature:priority", "feature:weight", "feature:port"}
	if got := componentIDs(data.Components); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected inputs %v, got %v", want, got)
	}
}

func TestModalContent(t *testing.T) {
	row := func(id, value string) discordgo.MessageComponent {
		return &discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			&discordgo.TextInput{CustomID: id, Value: value},
		}}
	}
	c := modalContent(discordgo.ModalSubmitInteractionData{
		CustomID: "dnsbot/s/modal",
		Components: []discordgo.MessageComponent{
			row("name", "mail"),
			row("content", "mx.example.net"),
			row("feature:priority", "10"),
		},
	})

	if c.Name != "mail" || c.Target != "mx.example.net" || c.Features["priority"] != "10" {
		t.Errorf("unexpected content %+v", c)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&core.ProviderError{Op: "create record", Detail: "rate limited"}, "rate limited"},
		{fmt.Errorf("%w: whois requires bot admin", core.ErrNotAuthorized), "You don't have permission to use this command."},
		{fmt.Errorf("%w: you don't own the subdomain a.example.org", core.ErrNotAuthorized), "you don't own the subdomain a.example.org"},
		{fmt.Errorf("%w: name must not be empty", core.ErrValidation), "name must not be empty"},
		{errors.New("boom"), "An unexpected error occurred."},
	}
	for _, tt := range tests {
		if got := userMessage(tt.err); got != tt.want {
			t.Errorf("userMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestBanMessage(t *testing.T) {
	msg := banMessage("<@1>", &core.BanReport{User: "1", Deleted: []string{"a.example.org"}, Failed: []string{"b.example.org"}})
	if !strings.Contains(msg, "has been banned") || !strings.Contains(msg, "b.example.org") {
		t.Errorf("unexpected ban message %q", msg)
	}
	if msg := banMessage("<@1>", &core.BanReport{AlreadyBanned: true}); !strings.Contains(msg, "already banned") {
		t.Errorf("unexpected ban message %q", msg)
	}
}
