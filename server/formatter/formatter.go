package formatter

import (
	"context"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/mattermost/mattermost-raid-relay/server/alert"
	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

// Attachment colors by alert status
const (
	ColorActive   = "#FF0000" // Red 🔴
	ColorInactive = "#00A000" // Green 🟢
)

// TimeLayout renders the alert time as zero-padded 24-hour HH:MM.
const TimeLayout = "15:04"

// LocationTranslator translates a place name between locales.
type LocationTranslator interface {
	Translate(ctx context.Context, text string, source, target i18n.Locale) (string, error)
}

// Templates renders the template of a locale with named fields.
type Templates interface {
	Render(locale i18n.Locale, key string, fields map[string]string) (string, error)
}

// Formatter renders alerts into localized, delivery-ready messages.
type Formatter struct {
	templates  Templates
	translator LocationTranslator
}

// New creates a formatter. The locales it formats for must already be loaded into templates.
func New(templates Templates, translator LocationTranslator) *Formatter {
	return &Formatter{
		templates:  templates,
		translator: translator,
	}
}

// Format renders a in locale, mentioning every recipient once.
//
// A translation failure is returned as *translator.TranslationError and a missing template as
// *i18n.MissingTemplateError, so callers can tell a dropped alert from a misconfiguration.
func (f *Formatter) Format(ctx context.Context, a alert.Alert, recipients []string, locale i18n.Locale) (string, error) {
	location, err := f.translator.Translate(ctx, a.Location(), i18n.SourceLocale, locale)
	if err != nil {
		return "", err
	}

	fields := map[string]string{
		i18n.FieldStatus:   a.Status().Glyph(),
		i18n.FieldTime:     a.Time().Format(TimeLayout),
		i18n.FieldThreat:   a.Threat().Glyph(),
		i18n.FieldLocation: location,
		i18n.FieldMentions: Mentions(recipients),
	}

	return f.templates.Render(locale, a.TemplateKey(), fields)
}

// Mentions renders recipient ids as mention tokens joined with ", ".
// Repeated ids are mentioned once, in order of first appearance. The result starts with a
// space so templates can append it directly; it is empty when there are no recipients.
func Mentions(recipients []string) string {
	seen := make(map[string]bool, len(recipients))
	tokens := make([]string, 0, len(recipients))

	for _, id := range recipients {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		tokens = append(tokens, "<@"+id+">")
	}

	if len(tokens) == 0 {
		return ""
	}

	return " " + strings.Join(tokens, ", ")
}

// Attachment wraps a formatted message into a SlackAttachment coloured by the alert status.
func Attachment(a alert.Alert, message string) *model.SlackAttachment {
	attachment := &model.SlackAttachment{
		Fallback: message,
		Text:     message,
		Color:    getStatusColor(a.Status()),
	}

	if a.Hashtag() != "" {
		attachment.Footer = a.Hashtag()
	}

	return attachment
}

// getStatusColor returns the color code for an alert status
func getStatusColor(status alert.Status) string {
	if status == alert.Active {
		return ColorActive
	}
	return ColorInactive
}
