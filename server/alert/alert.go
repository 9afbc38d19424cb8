package alert

import (
	"fmt"
	"time"
)

// Threat is the category of danger an alert refers to.
type Threat int

const (
	// AirRaid is an air raid alert.
	AirRaid Threat = iota
	// ArtilleryShelling is an artillery shelling threat.
	ArtilleryShelling
)

// threatGlyphs maps each threat to the glyph used when rendering it.
var threatGlyphs = map[Threat]string{
	AirRaid:           "🚀",
	ArtilleryShelling: "💣",
}

// threatNames maps each threat to a stable machine readable name (used in logs and history).
var threatNames = map[Threat]string{
	AirRaid:           "air_raid",
	ArtilleryShelling: "artillery_shelling",
}

// Threats lists every supported threat.
var Threats = []Threat{AirRaid, ArtilleryShelling}

// Glyph returns the display glyph of the threat.
func (t Threat) Glyph() string {
	return threatGlyphs[t]
}

// Name returns the machine readable name of the threat.
func (t Threat) Name() string {
	if name, ok := threatNames[t]; ok {
		return name
	}
	return fmt.Sprintf("threat(%d)", int(t))
}

// String returns the display glyph, so a threat can be dropped straight into a template key.
func (t Threat) String() string {
	return t.Glyph()
}

// Status tells whether the referenced threat is currently active or has been cancelled.
type Status int

const (
	// Active means the threat has been announced.
	Active Status = iota
	// Inactive means the threat has been cancelled.
	Inactive
)

var statusGlyphs = map[Status]string{
	Active:   "🔴",
	Inactive: "🟢",
}

var statusNames = map[Status]string{
	Active:   "active",
	Inactive: "inactive",
}

// Statuses lists every supported status.
var Statuses = []Status{Active, Inactive}

// Glyph returns the display glyph of the status.
func (s Status) Glyph() string {
	return statusGlyphs[s]
}

// Name returns the machine readable name of the status.
func (s Status) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// String returns the display glyph of the status.
func (s Status) String() string {
	return s.Glyph()
}

// TemplateKey returns the composite "{threat}.{status}" key used to select a message template.
func TemplateKey(threat Threat, status Status) string {
	return threat.String() + "." + status.String()
}

// Alert is one raid or shelling status change extracted from a notification.
// Alerts are only produced by Parse and are immutable afterwards.
type Alert struct {
	status   Status
	time     time.Time
	threat   Threat
	location string
	hashtag  string
}

// Status returns whether the threat is active or cancelled.
func (a Alert) Status() Status {
	return a.status
}

// Time returns the receipt time normalized to the alert source time zone.
func (a Alert) Time() time.Time {
	return a.time
}

// Threat returns the threat category.
func (a Alert) Threat() Threat {
	return a.threat
}

// Location returns the cleaned location name, in the source language.
func (a Alert) Location() string {
	return a.location
}

// Hashtag returns the trailing hashtag of the notification, verbatim.
func (a Alert) Hashtag() string {
	return a.hashtag
}

// TemplateKey returns the template key of this alert.
func (a Alert) TemplateKey() string {
	return TemplateKey(a.threat, a.status)
}
