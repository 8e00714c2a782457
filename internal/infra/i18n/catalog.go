// Package i18n loads the bot's message catalogs. Each catalog is a flat YAML
// map of message key to template, one file per two-letter language code.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

// DefaultLanguage is the fallback catalog.
const DefaultLanguage = "en"

// Catalog implements chat.Translator. It is read-only after construction.
type Catalog struct {
	messages map[string]map[string]string
	fallback string
}

// Builtin returns the catalogs compiled into the binary.
func Builtin() (*Catalog, error) {
	sub, err := fs.Sub(builtin, "locales")
	if err != nil {
		return nil, err
	}
	return Load(sub, DefaultLanguage)
}

// Load reads every *.yaml file at the root of fsys. The file name without
// extension is the language code.
func Load(fsys fs.FS, fallback string) (*Catalog, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	c := &Catalog{messages: map[string]map[string]string{}, fallback: fallback}
	for _, name := range files {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var msgs map[string]string
		if err := yaml.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		lang := strings.ToLower(strings.TrimSuffix(path.Base(name), ".yaml"))
		c.messages[lang] = msgs
	}
	if _, ok := c.messages[fallback]; !ok {
		return nil, fmt.Errorf("fallback catalog %q not found", fallback)
	}
	return c, nil
}

// Lookup returns the template for key in lang, then in the fallback
// language, then the key itself.
func (c *Catalog) Lookup(key, lang string) string {
	if s, ok := c.messages[lang][key]; ok {
		return s
	}
	if s, ok := c.messages[c.fallback][key]; ok {
		return s
	}
	return key
}

// Languages lists the loaded catalogs, sorted.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Missing reports keys present in the fallback catalog but absent from lang.
func (c *Catalog) Missing(lang string) []string {
	var out []string
	for key := range c.messages[c.fallback] {
		if _, ok := c.messages[lang][key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
