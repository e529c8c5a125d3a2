// Package formats loads the auction invoice format catalog: per-format
// signatures, pickup labels, field rules and the location keyword tables.
package formats

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/auction-intake/internal/model"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Catalog is the parsed format catalog.
type Catalog struct {
	Formats   []*Profile    `yaml:"formats"`
	Locations KeywordTables `yaml:"locations"`

	byCode map[string]*Profile
	byID   map[int]*Profile
}

// KeywordTables are the phrase lists used by the location classifier.
type KeywordTables struct {
	Delivery     []string `yaml:"delivery"`
	Warehouse    []string `yaml:"warehouse"`
	StrongPickup []string `yaml:"strong_pickup"`
	WeakPickup   []string `yaml:"weak_pickup"`
}

// Profile describes one auction invoice format.
type Profile struct {
	ID           int         `yaml:"id"`
	Code         string      `yaml:"code"`
	Name         string      `yaml:"name"`
	PickupZone   string      `yaml:"pickup_zone"`
	PickupLabels []string    `yaml:"pickup_labels"`
	Signatures   []Signature `yaml:"signatures"`
	Fields       []FieldRule `yaml:"fields"`
}

// Signature is a weighted pattern that suggests a format.
type Signature struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`

	re *regexp.Regexp
}

// FieldRule is a built-in extraction rule for one field.
type FieldRule struct {
	Key      string   `yaml:"key"`
	RuleType string   `yaml:"rule_type"`
	Labels   []string `yaml:"labels"`
	Excludes []string `yaml:"excludes"`
	Pattern  string   `yaml:"pattern"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultProfiles)
}

// Load reads a catalog from path, or returns the embedded catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "formats: read catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "formats: parse catalog")
	}
	if len(c.Formats) == 0 {
		return nil, eris.New("formats: catalog defines no formats")
	}

	c.byCode = make(map[string]*Profile, len(c.Formats))
	c.byID = make(map[int]*Profile, len(c.Formats))
	for _, p := range c.Formats {
		p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
		if p.Code == "" {
			return nil, eris.Errorf("formats: format %d has no code", p.ID)
		}
		if _, dup := c.byCode[p.Code]; dup {
			return nil, eris.Errorf("formats: duplicate format code %s", p.Code)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, eris.Errorf("formats: duplicate format id %d", p.ID)
		}
		if err := p.compile(); err != nil {
			return nil, err
		}
		c.byCode[p.Code] = p
		c.byID[p.ID] = p
	}
	return &c, nil
}

func (p *Profile) compile() error {
	if len(p.Signatures) == 0 {
		return eris.Errorf("formats: %s has no signatures", p.Code)
	}
	for i := range p.Signatures {
		s := &p.Signatures[i]
		if s.Weight <= 0 {
			return eris.Errorf("formats: %s signature %q needs a positive weight", p.Code, s.Pattern)
		}
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			return eris.Wrapf(err, "formats: %s signature %q", p.Code, s.Pattern)
		}
		s.re = re
	}
	for _, f := range p.Fields {
		switch f.RuleType {
		case model.RuleTypeLabelInline, model.RuleTypeLabelBelow:
			if len(f.Labels) == 0 {
				return eris.Errorf("formats: %s field %s has no labels", p.Code, f.Key)
			}
		case model.RuleTypeRegex:
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return eris.Wrapf(err, "formats: %s field %s pattern", p.Code, f.Key)
			}
		default:
			return eris.Errorf("formats: %s field %s has unknown rule type %q", p.Code, f.Key, f.RuleType)
		}
	}
	return nil
}

// ByCode looks up a format by code, case-insensitively.
func (c *Catalog) ByCode(code string) (*Profile, bool) {
	p, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return p, ok
}

// ByID looks up a format by numeric id.
func (c *Catalog) ByID(id int) (*Profile, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Source returns the format's source identifier.
func (p *Profile) Source() model.Source {
	return model.Source(p.Code)
}

// Score sums the weights of the signatures found in text, capped at 1, and
// returns the matched patterns in declaration order.
func (p *Profile) Score(text string) (float64, []string) {
	var score float64
	var matched []string
	for _, s := range p.Signatures {
		if s.re.MatchString(text) {
			score += s.Weight
			matched = append(matched, s.Pattern)
		}
	}
	if score > 1 {
		score = 1
	}
	return score, matched
}

// Field returns the built-in rule for key.
func (p *Profile) Field(key string) (FieldRule, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldRule{}, false
}
