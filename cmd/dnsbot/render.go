// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/autodns/dnsbot/core"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	colorBlue  = 0x3498db
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

const (
	kindDomain  = "domain"
	kindType    = "type"
	kindContent = "content"
	kindModal   = "modal"
	kindProxy   = "proxy"
	kindConfirm = "confirm"
	kindCancel  = "cancel"
)

// A modal holds at most five inputs; name and content take two.
const maxModalFeatures = 3

const customIDPrefix = "dnsbot"

func customID(sessionID, kind string) string {
	return customIDPrefix + "/" + sessionID + "/" + kind
}

func parseCustomID(id string) (sessionID, kind string, ok bool) {
	parts := strings.Split(id, "/")
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

var titleCaser = cases.Title(language.English)

func featureLabel(name string) string {
	return titleCaser.String(strings.ReplaceAll(name, "_", " "))
}

func stringSelect(id, placeholder string, labels, values []string) discordgo.ActionsRow {
	options := make([]discordgo.SelectMenuOption, len(labels))
	for i := range labels {
		options[i] = discordgo.SelectMenuOption{Label: labels[i], Value: values[i]}
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    id,
			Placeholder: placeholder,
			Options:     options,
		},
	}}
}

func summaryFields(v *core.View) []*discordgo.MessageEmbedField {
	var fields []*discordgo.MessageEmbedField
	for _, f := range v.Summary() {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   featureLabel(f.Name),
			Value:  f.Value,
			Inline: true,
		})
	}
	return fields
}

// renderView turns a session view into message content. note is shown under
// the description, e.g. a rejected input.
func renderView(v core.View, note string) *discordgo.InteractionResponseData {
	embed := &discordgo.MessageEmbed{
		Title: "Subdomain Creation",
		Color: colorBlue,
	}
	components := []discordgo.MessageComponent{}

	switch v.Stage {
	case core.StageSelectDomain:
		embed.Description = "Select a domain:"
		components = append(components, stringSelect(customID(v.ID, kindDomain), "Select a domain", v.Options, v.Options))

	case core.StageSelectRecordType:
		embed.Description = fmt.Sprintf("Selected domain: %s\nNow, choose a record type:", v.Domain)
		components = append(components, stringSelect(customID(v.ID, kindType), "Select a record type", v.Options, v.Options))

	case core.StageEnterContent:
		embed.Description = fmt.Sprintf("Selected domain: %s\nRecord type: %s\nEnter the record details.", v.Domain, v.RecordType)
		components = append(components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Enter details", Style: discordgo.PrimaryButton, CustomID: customID(v.ID, kindContent)},
		}})

	case core.StageSelectProxyStatus:
		embed.Fields = summaryFields(&v)
		components = append(components, stringSelect(customID(v.ID, kindProxy), "Proxy status",
			[]string{core.ProxyLabel(true), core.ProxyLabel(false)},
			[]string{"true", "false"}))

	case core.StageReviewConfirm:
		embed.Description = "Please confirm the details:"
		embed.Fields = summaryFields(&v)
		components = append(components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Confirm", Style: discordgo.SuccessButton, CustomID: customID(v.ID, kindConfirm)},
			discordgo.Button{Label: "Cancel", Style: discordgo.DangerButton, CustomID: customID(v.ID, kindCancel)},
		}})

	case core.StageSubmitting:
		embed.Description = fmt.Sprintf("Creating %s ...", v.CanonicalName())
		embed.Fields = summaryFields(&v)

	case core.StageConfirmed:
		embed.Title = "Subdomain Created"
		embed.Description = "Subdomain created successfully!"
		embed.Fields = summaryFields(&v)
		embed.Color = colorGreen

	case core.StageFailed:
		embed.Title = "Subdomain Creation Failed"
		embed.Description = fmt.Sprintf("Failed to create DNS record:\n```\n%s\n```", v.Detail)
		embed.Color = colorRed

	case core.StageCancelled:
		embed.Description = "Subdomain creation cancelled."
		embed.Color = colorRed

	case core.StageTimedOut:
		embed.Description = "Session timed out. Run /create-subdomain to start again."
		embed.Color = colorRed
	}

	if note != "" {
		embed.Description += "\n\n**" + note + "**"
	}

	return &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
	}
}

func renderExpired() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Subdomain Creation",
			Description: "This session has ended. Run /create-subdomain to start again.",
			Color:       colorRed,
		}},
		Components: []discordgo.MessageComponent{},
	}
}

func renderDM(v core.View) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:  "Subdomain Registration Successful",
		Color:  colorGreen,
		Fields: summaryFields(&v),
	}
}

func textRow(id, label, placeholder string, style discordgo.TextInputStyle) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.TextInput{
			CustomID:    id,
			Label:       label,
			Style:       style,
			Placeholder: placeholder,
			Required:    true,
			MaxLength:   255,
		},
	}}
}

func contentPlaceholder(recordType string) string {
	switch recordType {
	case "A":
		return "192.0.2.1"
	case "AAAA":
		return "2001:db8::1"
	case "CNAME", "MX", "SRV":
		return "target.example.com"
	}
	return ""
}

func contentModal(v core.View) *discordgo.InteractionResponseData {
	rows := []discordgo.MessageComponent{
		textRow("name", "Subdomain Name", "test", discordgo.TextInputShort),
		textRow("content", "Record Content", contentPlaceholder(v.RecordType), discordgo.TextInputParagraph),
	}
	for _, f := range v.Required {
		rows = append(rows, textRow("feature:"+f, featureLabel(f), "", discordgo.TextInputShort))
	}

	return &discordgo.InteractionResponseData{
		CustomID:   customID(v.ID, kindModal),
		Title:      "Enter Record Content",
		Components: rows,
	}
}

// modalContent reads the inputs built by contentModal.
func modalContent(data discordgo.ModalSubmitInteractionData) core.Content {
	c := core.Content{Features: map[string]string{}}
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rc := range row.Components {
			input, ok := rc.(*discordgo.TextInput)
			if !ok {
				continue
			}
			switch {
			case input.CustomID == "name":
				c.Name = input.Value
			case input.CustomID == "content":
				c.Target = input.Value
			case strings.HasPrefix(input.CustomID, "feature:"):
				c.Features[strings.TrimPrefix(input.CustomID, "feature:")] = input.Value
			}
		}
	}
	return c
}

// userMessage is what a user is told when an operation failed.
func userMessage(err error) string {
	var pe *core.ProviderError
	switch {
	case errors.As(err, &pe):
		return pe.Detail
	case errors.Is(err, core.ErrNotAuthorized):
		if strings.Contains(err.Error(), "requires bot admin") {
			return "You don't have permission to use this command."
		}
		return strings.TrimPrefix(err.Error(), core.ErrNotAuthorized.Error()+": ")
	case errors.Is(err, core.ErrValidation):
		return strings.TrimPrefix(err.Error(), core.ErrValidation.Error()+": ")
	case errors.Is(err, core.ErrPersistence):
		return "The bot could not save your change. Please try again later."
	}
	return "An unexpected error occurred."
}

func listMessage(names []string) string {
	if len(names) == 0 {
		return "You don't have any subdomains."
	}
	return "Your subdomains:\n" + strings.Join(names, ", ")
}

func userInfoMessage(mention string, info *core.UserInfo) string {
	if len(info.Subdomains) == 0 {
		return fmt.Sprintf("User %s has no subdomains.", mention)
	}
	return fmt.Sprintf("User: %s\nTotal domains: %d\nDomains: %s",
		mention, len(info.Subdomains), strings.Join(info.Subdomains, ", "))
}

func banMessage(mention string, report *core.BanReport) string {
	var b strings.Builder
	switch {
	case report.AlreadyBanned:
		fmt.Fprintf(&b, "%s is already banned from using the bot.", mention)
	case len(report.Deleted)+len(report.Failed) == 0:
		fmt.Fprintf(&b, "User %s has been banned and has no subdomains to delete.", mention)
	default:
		fmt.Fprintf(&b, "User %s has been banned and all their subdomains have been deleted.", mention)
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(&b, "\nThese records could not be deleted at the provider: %s", strings.Join(report.Failed, ", "))
	}
	return b.String()
}

func whoisMessage(domain, owner string, found bool) string {
	if !found {
		return fmt.Sprintf("Domain %s is not registered by any user.", domain)
	}
	return fmt.Sprintf("Domain %s is registered by user <@%s> (ID: %s)", domain, owner, owner)
}
