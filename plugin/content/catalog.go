package content

import (
	"bytes"
	_ "embed"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed templates/nudges.yaml
var defaultCatalog []byte

// Supported locales. DefaultLocale is used when a user's locale is unknown.
const DefaultLocale = "vi"

var supportedLocales = map[string]bool{"vi": true, "en": true, "zh": true}

// Localized is one string per locale.
type Localized map[string]string

type variantSpec struct {
	Persona string    `yaml:"persona"`
	Title   Localized `yaml:"title"`
	Body    Localized `yaml:"body"`
}

type nudgeSpec struct {
	Priority string        `yaml:"priority"`
	Requires []string      `yaml:"requires"`
	Variants []variantSpec `yaml:"variants"`
}

// Catalog holds the rule-based copy for each nudge type.
type Catalog struct {
	nudges map[string]*nudgeSpec
}

// DefaultCatalog parses the embedded templates.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog parses a YAML catalog and validates every template.
func ParseCatalog(data []byte) (*Catalog, error) {
	nudges := map[string]*nudgeSpec{}
	if err := yaml.Unmarshal(data, &nudges); err != nil {
		return nil, errors.Wrap(err, "unmarshal nudge catalog")
	}
	for nudgeType, spec := range nudges {
		if len(spec.Variants) == 0 {
			return nil, errors.Errorf("nudge %s has no variants", nudgeType)
		}
		for _, v := range spec.Variants {
			for _, text := range []Localized{v.Title, v.Body} {
				for locale, s := range text {
					if _, err := template.New(nudgeType).Option("missingkey=zero").Parse(s); err != nil {
						return nil, errors.Wrapf(err, "nudge %s locale %s", nudgeType, locale)
					}
				}
			}
		}
	}
	return &Catalog{nudges: nudges}, nil
}

// Types returns the nudge types the catalog can render.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.nudges))
	for t := range c.nudges {
		types = append(types, t)
	}
	return types
}

// rendered is a catalog hit before it becomes engine content.
type rendered struct {
	Title    string
	Body     string
	Priority string
	Locale   string
}

// render returns nil when the type is unknown or a required param is missing.
func (c *Catalog) render(nudgeType string, params map[string]any) (*rendered, error) {
	spec, ok := c.nudges[nudgeType]
	if !ok {
		return nil, nil
	}
	for _, key := range spec.Requires {
		if n, ok := number(params[key]); !ok || n <= 0 {
			return nil, nil
		}
	}

	persona, _ := params["persona"].(string)
	variant := spec.pick(strings.ToUpper(persona))
	locale := resolveLocale(params["locale"])

	title, err := execute(variant.Title.get(locale), params)
	if err != nil {
		return nil, errors.Wrapf(err, "render %s title", nudgeType)
	}
	body, err := execute(variant.Body.get(locale), params)
	if err != nil {
		return nil, errors.Wrapf(err, "render %s body", nudgeType)
	}
	return &rendered{Title: title, Body: body, Priority: spec.Priority, Locale: locale}, nil
}

func (s *nudgeSpec) pick(persona string) variantSpec {
	fallback := s.Variants[len(s.Variants)-1]
	for _, v := range s.Variants {
		if v.Persona == persona {
			return v
		}
		if v.Persona == "" {
			fallback = v
		}
	}
	return fallback
}

func (l Localized) get(locale string) string {
	if s, ok := l[locale]; ok {
		return s
	}
	return l[DefaultLocale]
}

func resolveLocale(v any) string {
	s, _ := v.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	if supportedLocales[s] {
		return s
	}
	return DefaultLocale
}

func execute(text string, params map[string]any) (string, error) {
	tmpl, err := template.New("nudge").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// number accepts the numeric shapes params arrive in: Go ints from the
// engine and float64 from decoded JSON.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
