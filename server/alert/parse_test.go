package alert

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kyivAirRaidText = "🔴 Повітряна тривога в м. Київ.\n" +
		"Слідкуйте за подальшими повідомленнями.\n" +
		"#kyiv"

	odesaShellingCancelledText = "🟢 Відбій загрози артобстрілу в м. Одеса.\n" +
		"Зверніть увагу, загроза може повторитися.\n" +
		"#odesa"
)

func TestParse_AirRaidActive(t *testing.T) {
	receivedAt := time.Date(2022, time.October, 10, 5, 30, 0, 0, time.UTC)

	a, err := Parse(kyivAirRaidText, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, Active, a.Status())
	assert.Equal(t, AirRaid, a.Threat())
	assert.Equal(t, "Київ", a.Location())
	assert.Equal(t, "#kyiv", a.Hashtag())

	assert.True(t, receivedAt.Equal(a.Time()), "normalized time must be the same instant")
	assert.Contains(t, []string{"Europe/Kyiv", "Europe/Kiev"}, a.Time().Location().String())
	assert.Equal(t, "08:30", a.Time().Format("15:04"))
}

func TestParse_ArtilleryInactive(t *testing.T) {
	receivedAt := time.Date(2022, time.December, 1, 12, 0, 0, 0, time.UTC)

	a, err := Parse(odesaShellingCancelledText, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, Inactive, a.Status())
	assert.Equal(t, ArtilleryShelling, a.Threat())
	assert.Equal(t, "Одеса", a.Location())
	assert.Equal(t, "#odesa", a.Hashtag())
	assert.Equal(t, "14:00", a.Time().Format("15:04"))
}

func TestParse_Variants(t *testing.T) {
	receivedAt := time.Now()

	tests := []struct {
		name     string
		text     string
		status   Status
		threat   Threat
		location string
		hashtag  string
	}{
		{
			name:     "air raid cancelled",
			text:     "🟢 Відбій тривоги в м. Харків.\nСлідкуйте за подальшими повідомленнями.\n#м_Харків",
			status:   Inactive,
			threat:   AirRaid,
			location: "Харків",
			hashtag:  "#м_Харків",
		},
		{
			name:     "currently in connector",
			text:     "🔴 Загроза артобстрілу! Зараз у Херсонська область артилерійський обстріл.\n#Херсонська_область",
			status:   Active,
			threat:   ArtilleryShelling,
			location: "Херсонська область",
			hashtag:  "#Херсонська_область",
		},
		{
			name:     "region without town abbreviation",
			text:     "🔴 Повітряна тривога в Львівська область\nСлідкуйте за подальшими повідомленнями\n#Львівська_область",
			status:   Active,
			threat:   AirRaid,
			location: "Львівська область",
			hashtag:  "#Львівська_область",
		},
		{
			name:     "shelling threat active",
			text:     "🔴 Загроза артобстрілу в м. Нікополь.\nЗверніть увагу!\n#м_Нікополь",
			status:   Active,
			threat:   ArtilleryShelling,
			location: "Нікополь",
			hashtag:  "#м_Нікополь",
		},
		{
			name:     "unknown leading glyph falls back to inactive",
			text:     "⚪ Повітряна тривога в м. Суми.\nСлідкуйте за подальшими повідомленнями.\n#м_Суми",
			status:   Inactive,
			threat:   AirRaid,
			location: "Суми",
			hashtag:  "#м_Суми",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.text, receivedAt)
			require.NoError(t, err)

			assert.Equal(t, tt.status, a.Status())
			assert.Equal(t, tt.threat, a.Threat())
			assert.Equal(t, tt.location, a.Location())
			assert.Equal(t, tt.hashtag, a.Hashtag())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{
			name:   "no connector phrases",
			text:   "🔴 Доброго ранку! Сьогодні спокійно.\n#news",
			reason: "pattern mismatch",
		},
		{
			name:   "missing hashtag",
			text:   "🔴 Повітряна тривога в м. Київ.\nСлідкуйте за подальшими повідомленнями.",
			reason: "pattern mismatch",
		},
		{
			name:   "missing follow-up phrase",
			text:   "🔴 Повітряна тривога в м. Київ.\n#kyiv",
			reason: "pattern mismatch",
		},
		{
			name:   "empty text",
			text:   "",
			reason: "pattern mismatch",
		},
		{
			name:   "connector without threat keyword",
			text:   "🔴 Зараз у м. Дніпро спокійно.\nЗверніть увагу на оновлення.\n#м_Дніпро",
			reason: "threat mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.text, time.Now())
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T", err)
			assert.Equal(t, tt.reason, parseErr.Reason)
			assert.Equal(t, Alert{}, a)
		})
	}
}

func TestParse_TimeZoneIndependentOfInput(t *testing.T) {
	utc := time.Date(2023, time.July, 1, 21, 15, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*60*60))

	fromUTC, err := Parse(kyivAirRaidText, utc)
	require.NoError(t, err)
	fromTokyo, err := Parse(kyivAirRaidText, tokyo)
	require.NoError(t, err)

	assert.Equal(t, fromUTC.Time().String(), fromTokyo.Time().String())
	assert.Equal(t, "00:15", fromUTC.Time().Format("15:04"))
}

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"м. Київ.", "Київ"},
		{"  м. Одеса. ", "Одеса"},
		{"Київська область", "Київська область"},
		{"м.Буча...", "Буча"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeLocation(tt.input))
		})
	}
}

func TestGlyphsAndKeys(t *testing.T) {
	assert.Equal(t, "🚀", AirRaid.Glyph())
	assert.Equal(t, "💣", ArtilleryShelling.Glyph())
	assert.Equal(t, "🔴", Active.Glyph())
	assert.Equal(t, "🟢", Inactive.Glyph())

	assert.Equal(t, "🚀.🔴", TemplateKey(AirRaid, Active))
	assert.Equal(t, "💣.🟢", TemplateKey(ArtilleryShelling, Inactive))

	assert.Equal(t, "air_raid", AirRaid.Name())
	assert.Equal(t, "inactive", Inactive.Name())
	assert.Equal(t, "threat(7)", Threat(7).Name())
}
