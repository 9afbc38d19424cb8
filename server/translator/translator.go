package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattermost/mattermost-raid-relay/server/i18n"
)

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks . Backend

// Backend translates text between one fixed pair of locales.
type Backend interface {
	Translate(ctx context.Context, text string) (string, error)
}

// BackendFactory creates a Backend translating from source to target.
type BackendFactory func(source, target i18n.Locale) (Backend, error)

// TranslationError reports a failed translation. It wraps the backend error.
type TranslationError struct {
	Text   string
	Source i18n.Locale
	Target i18n.Locale
	Err    error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %q from %s to %s: %v", e.Text, e.Source, e.Target, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// pair is a translation direction.
type pair struct {
	source, target i18n.Locale
}

// Translator translates location names, creating one backend per locale pair on first use and
// reusing it for the life of the process.
type Translator struct {
	factory BackendFactory

	mu       sync.Mutex
	backends map[pair]Backend
}

// New creates a translator that builds its backends with factory.
func New(factory BackendFactory) *Translator {
	return &Translator{
		factory:  factory,
		backends: make(map[pair]Backend),
	}
}

// Translate translates text from source to target. When both locales are the same the text is
// returned unchanged and no backend is involved.
func (t *Translator) Translate(ctx context.Context, text string, source, target i18n.Locale) (string, error) {
	if source == target {
		return text, nil
	}

	backend, err := t.backend(source, target)
	if err != nil {
		return "", &TranslationError{Text: text, Source: source, Target: target, Err: err}
	}

	translated, err := backend.Translate(ctx, text)
	if err != nil {
		return "", &TranslationError{Text: text, Source: source, Target: target, Err: err}
	}

	return translated, nil
}

// backend returns the memoized backend for the source and target pair, creating it on first use.
func (t *Translator) backend(source, target i18n.Locale) (Backend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := pair{source: source, target: target}
	if backend, ok := t.backends[key]; ok {
		return backend, nil
	}

	backend, err := t.factory(source, target)
	if err != nil {
		return nil, err
	}

	t.backends[key] = backend
	return backend, nil
}

// CachedPairs returns how many locale pairs have a backend.
func (t *Translator) CachedPairs() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.backends)
}
