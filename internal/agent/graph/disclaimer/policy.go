// Package disclaimer decides which compliance notice, if any, an advisor reply
// needs and appends it exactly once.
package disclaimer

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category names a disclaimer text.
type Category string

const (
	Legal      Category = "legal"
	Financial  Category = "financial"
	Tax        Category = "tax"
	Investment Category = "investment"
	General    Category = "general"
)

//go:embed policy.yaml
var defaultDocument []byte

type document struct {
	Marker string `yaml:"marker"`
	Topics []struct {
		Category Category `yaml:"category"`
		Keywords []string `yaml:"keywords"`
	} `yaml:"topics"`
	Defaults map[string]Category `yaml:"defaults"`
	Texts    map[Category]string `yaml:"texts"`
}

type topic struct {
	category Category
	keywords []keyword
}

type keyword struct {
	text   string
	prefix bool
}

// in reports whether k occurs in s as a whole word, or as the start of a word
// for prefix keywords.
func (k keyword) in(s string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], k.text)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(k.text)
		if !isWordByte(s, start-1) && (k.prefix || !isWordByte(s, end)) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80
}

// Policy is immutable after Load and safe for concurrent use.
type Policy struct {
	marker   string
	topics   []topic
	defaults map[string]Category
	texts    map[Category]string
}

// Load parses and validates a policy document.
func Load(data []byte) (*Policy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse disclaimer policy: %w", err)
	}
	if strings.TrimSpace(doc.Marker) == "" {
		return nil, fmt.Errorf("disclaimer policy: marker is required")
	}

	p := &Policy{
		marker:   doc.Marker,
		defaults: map[string]Category{},
		texts:    map[Category]string{},
	}
	for c, text := range doc.Texts {
		text = strings.TrimSpace(text)
		if !strings.Contains(text, doc.Marker) {
			return nil, fmt.Errorf("disclaimer policy: text %q does not contain marker %q", c, doc.Marker)
		}
		p.texts[c] = text
	}
	if _, ok := p.texts[General]; !ok {
		return nil, fmt.Errorf("disclaimer policy: general text is required")
	}

	for _, t := range doc.Topics {
		if _, ok := p.texts[t.Category]; !ok {
			return nil, fmt.Errorf("disclaimer policy: topic %q has no text", t.Category)
		}
		if len(t.Keywords) == 0 {
			return nil, fmt.Errorf("disclaimer policy: topic %q has no keywords", t.Category)
		}
		kws := make([]keyword, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			kw := keyword{text: strings.TrimSuffix(k, "*"), prefix: strings.HasSuffix(k, "*")}
			if kw.text == "" {
				return nil, fmt.Errorf("disclaimer policy: topic %q has an empty keyword", t.Category)
			}
			kws = append(kws, kw)
		}
		p.topics = append(p.topics, topic{category: t.Category, keywords: kws})
	}
	for gen, c := range doc.Defaults {
		if _, ok := p.texts[c]; !ok {
			return nil, fmt.Errorf("disclaimer policy: default %q for %s has no text", c, gen)
		}
		p.defaults[gen] = c
	}
	return p, nil
}

var (
	defaultOnce   sync.Once
	defaultPolicy *Policy
)

// Default returns the embedded policy. It panics if the embedded document is
// invalid, which the package tests rule out.
func Default() *Policy {
	defaultOnce.Do(func() {
		p, err := Load(defaultDocument)
		if err != nil {
			panic(err)
		}
		defaultPolicy = p
	})
	return defaultPolicy
}

// Marker is the prefix shared by every disclaimer text.
func (p *Policy) Marker() string { return p.marker }

// Text returns the disclaimer text of a category.
func (p *Policy) Text(c Category) string { return p.texts[c] }

// HasDisclaimer reports whether response already carries a disclaimer.
func (p *Policy) HasDisclaimer(response string) bool {
	return strings.Contains(response, p.marker)
}

// Detect returns the category a reply from generator needs. Topic keywords are
// matched against query and response together, first topic wins; without a
// match the generator's default applies, if it has one.
func (p *Policy) Detect(response, generator, query string) (Category, bool) {
	haystack := strings.ToLower(query + " " + response)
	for _, t := range p.topics {
		for _, k := range t.keywords {
			if k.in(haystack) {
				return t.category, true
			}
		}
	}
	c, ok := p.defaults[generator]
	return c, ok
}

// Apply appends the matching disclaimer to response. Responses that already
// contain the marker, and responses needing none, are returned unchanged.
func (p *Policy) Apply(response, generator, query string) string {
	out, _, _ := p.ApplyCategory(response, generator, query)
	return out
}

// ApplyCategory is Apply that also reports what was appended.
func (p *Policy) ApplyCategory(response, generator, query string) (string, Category, bool) {
	if p.HasDisclaimer(response) {
		return response, "", false
	}
	c, ok := p.Detect(response, generator, query)
	if !ok {
		return response, "", false
	}
	return strings.TrimRight(response, "\n ") + "\n\n---\n" + p.texts[c], c, true
}
