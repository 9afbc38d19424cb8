package alert

import (
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Kyiv must resolve on hosts without a zoneinfo database
)

// SourceTimeZone is the time zone alert times are normalized to.
const SourceTimeZone = "Europe/Kyiv"

var (
	// alertPattern captures the status glyph, the location and the trailing hashtag. The location
	// sits between a connector phrase ("тривога в", "Зараз у", "артобстрілу в") and a follow-up
	// phrase ("Слідкуйте", "Зверніть", "артилерійський").
	alertPattern = regexp.MustCompile(
		`(?s)^(?P<status>.)` +
			`.*(?:тривог[аи] в|Зараз у|артобстрілу в)\s` +
			`(?P<location>.*)` +
			`\s(?:Слідкуйте|Зверніть|артилерійський).*` +
			`(?P<hashtag>#.*)$`,
	)

	// threatPattern matches the first threat keyword stem in the text.
	threatPattern = regexp.MustCompile(`(?P<threat>тривог|артобстріл)`)

	statusGroup   = alertPattern.SubexpIndex("status")
	locationGroup = alertPattern.SubexpIndex("location")
	hashtagGroup  = alertPattern.SubexpIndex("hashtag")
	threatGroup   = threatPattern.SubexpIndex("threat")

	// locationFiller strips the "town" abbreviation and periods from a location.
	locationFiller = strings.NewReplacer("м.", "", ".", "")

	sourceLocation = loadSourceLocation()
)

const (
	airRaidStem = "тривог"
)

// ParseError is returned when a notification text is not a recognizable alert.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "alert parse error: " + e.Reason
}

// Parse converts a raw notification text received at receivedAt into an Alert.
// Any failure is reported as a *ParseError and no Alert is produced.
func Parse(text string, receivedAt time.Time) (Alert, error) {
	match := alertPattern.FindStringSubmatch(text)
	if match == nil {
		return Alert{}, &ParseError{Reason: "pattern mismatch"}
	}

	threat, err := parseThreat(text)
	if err != nil {
		return Alert{}, err
	}

	return Alert{
		status:   parseStatus(match[statusGroup]),
		time:     NormalizeTime(receivedAt),
		threat:   threat,
		location: NormalizeLocation(match[locationGroup]),
		hashtag:  match[hashtagGroup],
	}, nil
}

// parseThreat classifies the text by the first threat keyword stem it contains.
func parseThreat(text string) (Threat, error) {
	match := threatPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, &ParseError{Reason: "threat mismatch"}
	}

	if match[threatGroup] == airRaidStem {
		return AirRaid, nil
	}
	return ArtilleryShelling, nil
}

// parseStatus maps the leading glyph to a status. Anything but the active glyph is Inactive.
func parseStatus(glyph string) Status {
	if glyph == Active.Glyph() {
		return Active
	}
	return Inactive
}

// NormalizeTime converts t to the alert source time zone.
func NormalizeTime(t time.Time) time.Time {
	return t.In(sourceLocation)
}

// NormalizeLocation removes filler tokens and periods from a location and trims it.
func NormalizeLocation(location string) string {
	return strings.TrimSpace(locationFiller.Replace(location))
}

func loadSourceLocation() *time.Location {
	loc, err := time.LoadLocation(SourceTimeZone)
	if err == nil {
		return loc
	}

	// Zone databases older than 2022b only know the legacy spelling.
	loc, err = time.LoadLocation("Europe/Kiev")
	if err != nil {
		panic("alert: cannot load time zone " + SourceTimeZone + ": " + err.Error())
	}
	return loc
}
