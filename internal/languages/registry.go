package languages

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

const Python = "python"

var (
	ErrLanguageNotFound = errors.New("language not found")
	ErrInvalidLanguage  = errors.New("invalid language")
)

type Registry struct {
	mu        sync.RWMutex
	languages map[string]Language
}

func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[string]Language),
	}
	r.registerDefaults()
	return r
}

// Register adds lang, replacing any runtime with the same ID. Runtimes
// missing any RuntimeConfig field other than Image are rejected.
func (r *Registry) Register(lang Language) error {
	switch {
	case lang.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidLanguage)
	case lang.Config.SourceFile == "":
		return fmt.Errorf("%w: %s has no source file", ErrInvalidLanguage, lang.ID)
	case len(lang.Config.RunCommand) == 0:
		return fmt.Errorf("%w: %s has no run command", ErrInvalidLanguage, lang.ID)
	case lang.Config.DefinitionKeyword == "":
		return fmt.Errorf("%w: %s has no definition keyword", ErrInvalidLanguage, lang.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[lang.ID] = lang
	return nil
}

func (r *Registry) Get(id string) (Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.languages[id]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrLanguageNotFound, id)
	}
	return lang, nil
}

// List returns the registered runtimes ordered by ID.
func (r *Registry) List() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l)
	}
	slices.SortFunc(langs, func(a, b Language) int { return strings.Compare(a.ID, b.ID) })
	return langs
}

func (r *Registry) registerDefaults() {
	// -I isolates the interpreter from user site-packages and PYTHON* env,
	// -B keeps it from writing bytecode into the scratch dir.
	_ = r.Register(Language{
		ID:   Python,
		Name: "Python",
		Config: RuntimeConfig{
			Image:             "python:3.11-slim",
			SourceFile:        "main.py",
			RunCommand:        []string{"python3", "-I", "-B", "main.py"},
			DefinitionKeyword: "def",
		},
	})
}
