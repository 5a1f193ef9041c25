// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/autodns/dnsbot/core"
	"github.com/bwmarrin/discordgo"
	"github.com/go-logr/logr"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "create-subdomain",
		Description: "Create a new subdomain",
	},
	{
		Name:        "list",
		Description: "Show subdomains under the user",
	},
	{
		Name:        "remove",
		Description: "Delete user's subdomain",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "domain",
			Description: "Subdomain to delete, e.g. test.example.org",
			Required:    true,
		}},
	},
	{
		Name:        "userinfo",
		Description: "Show user info (Bot admin only)",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "User to look up",
			Required:    true,
		}},
	},
	{
		Name:        "ban",
		Description: "Ban user and delete all their subdomains (Bot admin only)",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "User to ban",
			Required:    true,
		}},
	},
	{
		Name:        "whois",
		Description: "Look up the subdomain registered by the user (Bot admin only)",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "domain",
			Description: "Subdomain to look up",
			Required:    true,
		}},
	},
}

// Bot renders sessions as interaction messages. It keeps the latest
// interaction of each session so a timeout can still edit the message.
type Bot struct {
	Session *discordgo.Session
	AppID   string
	GuildID string
	App     *App
	Log     logr.Logger

	ctx context.Context

	lock         sync.Mutex
	interactions map[string]*discordgo.Interaction
}

func NewBot(cfg *core.Config, app *App, log logr.Logger) (*Bot, error) {
	if cfg.Discord.Token == "" || cfg.Discord.AppID == "" {
		return nil, fmt.Errorf("discord: require [token] and [app_id]")
	}
	for t, features := range cfg.RecordFeatures {
		if len(features) > maxModalFeatures {
			return nil, fmt.Errorf("discord: record type %s has %d features, at most %d fit in a form", t, len(features), maxModalFeatures)
		}
	}

	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	b := &Bot{
		Session:      s,
		AppID:        cfg.Discord.AppID,
		GuildID:      cfg.Discord.GuildID,
		App:          app,
		Log:          log,
		ctx:          context.Background(),
		interactions: map[string]*discordgo.Interaction{},
	}
	app.Manager.OnExpire = b.expired
	return b, nil
}

func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx

	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.Log.Info("connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	b.Session.AddHandler(b.onInteraction)

	err := b.Session.Open()
	if err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	_, err = b.Session.ApplicationCommandBulkOverwrite(b.AppID, b.GuildID, commands)
	if err != nil {
		_ = b.Session.Close()
		return fmt.Errorf("discord: registering commands: %w", err)
	}
	b.Log.Info("commands registered", "count", len(commands), "guild", b.GuildID)
	return nil
}

func (b *Bot) Close() error {
	return b.Session.Close()
}

func interactionUser(i *discordgo.Interaction) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

func (b *Bot) onInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	i := ic.Interaction
	user := interactionUser(i)
	if user == "" {
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.onCommand(i, user)
	case discordgo.InteractionMessageComponent:
		b.onComponent(i, user)
	case discordgo.InteractionModalSubmit:
		b.onModal(i, user)
	}
}

func (b *Bot) respond(i *discordgo.Interaction, typ discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	err := b.Session.InteractionRespond(i, &discordgo.InteractionResponse{Type: typ, Data: data})
	if err != nil {
		b.Log.Error(err, "responding to interaction failed", "interaction", i.ID, "type", typ)
	}
}

func (b *Bot) reply(i *discordgo.Interaction, text string) {
	b.respond(i, discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func (b *Bot) edit(i *discordgo.Interaction, data *discordgo.InteractionResponseData) {
	edit := &discordgo.WebhookEdit{
		Content:    &data.Content,
		Components: &data.Components,
	}
	if data.Embeds != nil {
		edit.Embeds = &data.Embeds
	}
	_, err := b.Session.InteractionResponseEdit(i, edit)
	if err != nil {
		b.Log.Error(err, "editing interaction response failed", "interaction", i.ID)
	}
}

// later acknowledges now and edits the reply with the result of fn.
func (b *Bot) later(i *discordgo.Interaction, fn func() string) {
	b.respond(i, discordgo.InteractionResponseDeferredChannelMessageWithSource, &discordgo.InteractionResponseData{
		Flags: discordgo.MessageFlagsEphemeral,
	})
	b.edit(i, &discordgo.InteractionResponseData{Content: fn(), Components: []discordgo.MessageComponent{}})
}

func (b *Bot) track(sessionID string, i *discordgo.Interaction) {
	b.lock.Lock()
	b.interactions[sessionID] = i
	b.lock.Unlock()
}

func (b *Bot) untrack(sessionID string) *discordgo.Interaction {
	b.lock.Lock()
	defer b.lock.Unlock()
	i := b.interactions[sessionID]
	delete(b.interactions, sessionID)
	return i
}

func (b *Bot) expired(v core.View) {
	i := b.untrack(v.ID)
	if i == nil {
		return
	}
	b.edit(i, renderView(v, ""))
}

func commandOption(data discordgo.ApplicationCommandInteractionData, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range data.Options {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func (b *Bot) onCommand(i *discordgo.Interaction, user string) {
	data := i.ApplicationCommandData()
	log := b.Log.WithValues("command", data.Name, "user", user)
	log.V(1).Info("command received")

	switch data.Name {
	case "create-subdomain":
		v, err := b.App.Manager.Start(user)
		if err != nil {
			b.reply(i, userMessage(err))
			return
		}
		b.track(v.ID, i)
		resp := renderView(v, "")
		resp.Content = "*Let's create a subdomain!*"
		resp.Flags = discordgo.MessageFlagsEphemeral
		b.respond(i, discordgo.InteractionResponseChannelMessageWithSource, resp)

	case "list":
		b.reply(i, listMessage(b.App.Moderator.List(user)))

	case "remove":
		domain := commandOption(data, "domain").StringValue()
		b.later(i, func() string {
			err := b.App.Moderator.Remove(b.ctx, user, domain)
			if err != nil {
				log.Info("remove failed", "domain", domain, "error", err.Error())
				return userMessage(err)
			}
			return fmt.Sprintf("Subdomain %s has been deleted.", domain)
		})

	case "userinfo":
		target := commandOption(data, "user").UserValue(nil)
		info, err := b.App.Moderator.UserInfo(user, target.ID)
		if err != nil {
			b.reply(i, userMessage(err))
			return
		}
		b.reply(i, userInfoMessage(target.Mention(), info))

	case "whois":
		domain := commandOption(data, "domain").StringValue()
		owner, found, err := b.App.Moderator.Whois(user, domain)
		if err != nil {
			b.reply(i, userMessage(err))
			return
		}
		b.reply(i, whoisMessage(domain, owner, found))

	case "ban":
		target := commandOption(data, "user").UserValue(nil)
		if !b.App.Ledger.IsAdmin(user) {
			b.reply(i, "You don't have permission to use this command.")
			return
		}
		b.later(i, func() string {
			report, err := b.App.Moderator.Ban(b.ctx, user, target.ID)
			if err != nil {
				return userMessage(err)
			}
			return banMessage(target.Mention(), report)
		})
	}
}

func (b *Bot) onComponent(i *discordgo.Interaction, user string) {
	data := i.MessageComponentData()
	sessionID, kind, ok := parseCustomID(data.CustomID)
	if !ok {
		return
	}

	cur, live := b.App.Manager.Lookup(sessionID)
	if !live {
		b.untrack(sessionID)
		b.respond(i, discordgo.InteractionResponseUpdateMessage, renderExpired())
		return
	}
	b.track(sessionID, i)

	var in core.Input
	switch kind {
	case kindDomain:
		in = core.DomainChoice{Domain: firstValue(data)}
	case kindType:
		if cur.Stage == core.StageEnterContent {
			b.respond(i, discordgo.InteractionResponseModal, contentModal(cur))
			return
		}
		in = core.RecordTypeChoice{Type: firstValue(data)}
	case kindContent:
		if cur.Stage != core.StageEnterContent {
			b.respond(i, discordgo.InteractionResponseUpdateMessage, renderView(cur, ""))
			return
		}
		b.respond(i, discordgo.InteractionResponseModal, contentModal(cur))
		return
	case kindProxy:
		in = core.ProxyChoice{Proxied: firstValue(data) == "true"}
	case kindConfirm:
		b.confirm(i, user, sessionID)
		return
	case kindCancel:
		in = core.Decision{Confirm: false}
	default:
		return
	}

	v, err := b.App.Manager.Apply(b.ctx, sessionID, user, in)
	switch {
	case err == nil && kind == kindType && v.Stage == core.StageEnterContent:
		b.respond(i, discordgo.InteractionResponseModal, contentModal(v))
	case err == nil:
		if v.Stage.Terminal() {
			b.untrack(sessionID)
		}
		b.respond(i, discordgo.InteractionResponseUpdateMessage, renderView(v, ""))
	default:
		b.fail(i, sessionID, v, err)
	}
}

func (b *Bot) onModal(i *discordgo.Interaction, user string) {
	data := i.ModalSubmitData()
	sessionID, kind, ok := parseCustomID(data.CustomID)
	if !ok || kind != kindModal {
		return
	}
	b.track(sessionID, i)

	v, err := b.App.Manager.Apply(b.ctx, sessionID, user, modalContent(data))
	if err != nil {
		b.fail(i, sessionID, v, err)
		return
	}
	b.respond(i, discordgo.InteractionResponseUpdateMessage, renderView(v, ""))
}

func (b *Bot) confirm(i *discordgo.Interaction, user, sessionID string) {
	b.respond(i, discordgo.InteractionResponseDeferredMessageUpdate, nil)

	v, err := b.App.Manager.Apply(b.ctx, sessionID, user, core.Decision{Confirm: true})
	b.untrack(sessionID)
	switch {
	case errors.Is(err, core.ErrNoSession):
		b.edit(i, renderExpired())
		return
	case errors.Is(err, core.ErrNotAuthorized) && v.ID == "":
		return
	}
	b.edit(i, renderView(v, ""))

	if v.Stage == core.StageConfirmed {
		b.notify(user, v)
	}
}

// fail shows a rejected step. Validation errors keep the session on screen.
func (b *Bot) fail(i *discordgo.Interaction, sessionID string, v core.View, err error) {
	switch {
	case errors.Is(err, core.ErrNoSession):
		b.untrack(sessionID)
		b.respond(i, discordgo.InteractionResponseUpdateMessage, renderExpired())
	case errors.Is(err, core.ErrNotAuthorized) && v.ID == "":
		b.reply(i, userMessage(err))
	case errors.Is(err, core.ErrValidation) && !v.Stage.Terminal():
		b.respond(i, discordgo.InteractionResponseUpdateMessage, renderView(v, userMessage(err)))
	default:
		b.untrack(sessionID)
		b.respond(i, discordgo.InteractionResponseUpdateMessage, renderView(v, ""))
	}
}

func (b *Bot) notify(user string, v core.View) {
	ch, err := b.Session.UserChannelCreate(user)
	if err != nil {
		b.Log.Error(err, "opening DM channel failed", "user", user)
		return
	}
	_, err = b.Session.ChannelMessageSendEmbed(ch.ID, renderDM(v))
	if err != nil {
		b.Log.Error(err, "sending DM failed", "user", user)
	}
}

func firstValue(data discordgo.MessageComponentInteractionData) string {
	if len(data.Values) == 0 {
		return ""
	}
	return data.Values[0]
}
