package i18n

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mattermost/mattermost-raid-relay/server/alert"
)

// Placeholders that templates may reference.
const (
	FieldStatus   = "status"
	FieldTime     = "time"
	FieldThreat   = "threat"
	FieldLocation = "location"
	FieldMentions = "mentions"
)

var knownFields = map[string]bool{
	FieldStatus:   true,
	FieldTime:     true,
	FieldThreat:   true,
	FieldLocation: true,
	FieldMentions: true,
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// ErrMissingTemplate is matched by every MissingTemplateError.
var ErrMissingTemplate = errors.New("missing template")

// MissingTemplateError reports a template key absent from a locale.
type MissingTemplateError struct {
	Locale Locale
	Key    string
}

func (e *MissingTemplateError) Error() string {
	return fmt.Sprintf("missing template %q for locale %q", e.Key, e.Locale)
}

// Is makes errors.Is(err, ErrMissingTemplate) hold.
func (e *MissingTemplateError) Is(target error) bool {
	return target == ErrMissingTemplate
}

// templateFile is the on-disk layout of a locale file.
type templateFile struct {
	Locale    string            `yaml:"locale"`
	Templates map[string]string `yaml:"templates"`
}

// Store holds the message templates of the loaded locales. Templates are read-only once loaded.
type Store struct {
	mu           sync.RWMutex
	templates    map[Locale]map[string]string
	overridesDir string
}

// NewStore creates an empty store. When overridesDir is non-empty, a "<locale>.yaml" file found
// there replaces the embedded templates it names.
func NewStore(overridesDir string) *Store {
	return &Store{
		templates:    make(map[Locale]map[string]string),
		overridesDir: overridesDir,
	}
}

// RequiredKeys returns the template keys every locale has to define.
func RequiredKeys() []string {
	keys := make([]string, 0, len(alert.Threats)*len(alert.Statuses))
	for _, threat := range alert.Threats {
		for _, status := range alert.Statuses {
			keys = append(keys, alert.TemplateKey(threat, status))
		}
	}
	return keys
}

// Load reads and validates the template set of locale. Loading an already loaded locale is a no-op.
func (s *Store) Load(locale Locale) error {
	s.mu.RLock()
	_, loaded := s.templates[locale]
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	templates, err := readEmbedded(locale)
	if err != nil {
		return err
	}

	if s.overridesDir != "" {
		overrides, err := readOverrides(s.overridesDir, locale)
		if err != nil {
			return err
		}
		for key, body := range overrides {
			templates[key] = body
		}
	}

	if err := validate(locale, templates); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := s.templates[locale]; !loaded {
		s.templates[locale] = templates
	}

	return nil
}

// Lookup returns the template stored under key for locale.
func (s *Store) Lookup(locale Locale, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates, ok := s.templates[locale]
	if !ok {
		return "", &MissingTemplateError{Locale: locale, Key: key}
	}

	body, ok := templates[key]
	if !ok {
		return "", &MissingTemplateError{Locale: locale, Key: key}
	}

	return body, nil
}

// Render looks up the template for key in locale and substitutes the named fields into it.
// Placeholders without a field are left untouched.
func (s *Store) Render(locale Locale, key string, fields map[string]string) (string, error) {
	body, err := s.Lookup(locale, key)
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(fields)*2)
	for name, value := range fields {
		pairs = append(pairs, "{"+name+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(body), nil
}

// Loaded returns the loaded locales, sorted.
func (s *Store) Loaded() []Locale {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locales := make([]Locale, 0, len(s.templates))
	for locale := range s.templates {
		locales = append(locales, locale)
	}
	sort.Slice(locales, func(i, j int) bool { return locales[i] < locales[j] })

	return locales
}

func readEmbedded(locale Locale) (map[string]string, error) {
	data, err := embeddedLocales.ReadFile("locales/" + string(locale) + ".yaml")
	if err != nil {
		return nil, errors.Errorf("no templates bundled for locale %q", locale)
	}

	return decode(locale, data)
}

func readOverrides(dir string, locale Locale) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, string(locale)+".yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read template overrides for locale %q", locale)
	}

	return decode(locale, data)
}

func decode(locale Locale, data []byte) (map[string]string, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse templates for locale %q", locale)
	}

	if file.Locale != "" && file.Locale != string(locale) {
		return nil, errors.Errorf("template file declares locale %q, expected %q", file.Locale, locale)
	}

	templates := make(map[string]string, len(file.Templates))
	for key, body := range file.Templates {
		templates[key] = body
	}

	return templates, nil
}

// validate checks that every required key is present and that no template references an
// unknown placeholder.
func validate(locale Locale, templates map[string]string) error {
	for _, key := range RequiredKeys() {
		if _, ok := templates[key]; !ok {
			return &MissingTemplateError{Locale: locale, Key: key}
		}
	}

	for key, body := range templates {
		for _, match := range placeholderPattern.FindAllStringSubmatch(body, -1) {
			if !knownFields[match[1]] {
				return errors.Errorf("template %q for locale %q references unknown field {%s}", key, locale, match[1])
			}
		}
	}

	return nil
}
