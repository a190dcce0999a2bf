// Package texts holds the localized user-visible strings.
package texts

import (
	_ "embed"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// FallbackLocale is used when a key is missing in the requested locale.
const FallbackLocale = "ru"

//go:embed texts.yaml
var defaultYAML []byte

// Catalog maps locale -> key -> text.
type Catalog struct {
	locales map[string]map[string]string
}

// Parse builds a catalog from YAML of the form {locale: {key: text}}.
func Parse(data []byte) (*Catalog, error) {
	var locales map[string]map[string]string
	if err := yaml.Unmarshal(data, &locales); err != nil {
		return nil, fmt.Errorf("parse texts: %w", err)
	}
	if _, ok := locales[FallbackLocale]; !ok {
		return nil, fmt.Errorf("parse texts: missing %q locale", FallbackLocale)
	}
	return &Catalog{locales: locales}, nil
}

// Default returns the embedded catalog. It panics if the embedded file is malformed.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the text for key in locale, falling back to ru and then to the key itself.
func (c *Catalog) Get(locale, key string) string {
	if s, ok := c.locales[locale][key]; ok {
		return s
	}
	if s, ok := c.locales[FallbackLocale][key]; ok {
		return s
	}
	slog.Warn("Catalog.Get: missing text", "locale", locale, "key", key)
	return key
}

// Format renders the text for key with fmt verbs filled from args.
func (c *Catalog) Format(locale, key string, args ...any) string {
	return fmt.Sprintf(c.Get(locale, key), args...)
}

// Keys returns the keys defined for locale.
func (c *Catalog) Keys(locale string) []string {
	keys := make([]string, 0, len(c.locales[locale]))
	for k := range c.locales[locale] {
		keys = append(keys, k)
	}
	return keys
}
