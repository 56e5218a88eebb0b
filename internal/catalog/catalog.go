package catalog

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator names a content check applied to a field value.
type Validator string

const (
	ValidatorNone  Validator = ""
	ValidatorPhone Validator = "phone"
	ValidatorEmail Validator = "email"
)

// FieldType is the semantic type reported by the analyzer.
type FieldType string

const (
	TypeText        FieldType = "text"
	TypePhone       FieldType = "phone"
	TypeCategorical FieldType = "categorical"
	TypeNumeric     FieldType = "numeric"
	TypeEmail       FieldType = "email"
	TypeDate        FieldType = "date"
)

// TargetField is a canonical slot that the detector binds source columns to.
type TargetField struct {
	Key       string    `yaml:"key" json:"key"`
	Patterns  []string  `yaml:"patterns" json:"patterns"`
	Validator Validator `yaml:"validator,omitempty" json:"validator,omitempty"`
	Required  bool      `yaml:"required" json:"required"`
}

// Validate runs the field's content validator. Fields without one accept any value.
func (t TargetField) Validate(value string) bool {
	return t.Validator.Check(value)
}

// ExpectedField is a naming entry used by the analyzer.
type ExpectedField struct {
	Key         string    `yaml:"key" json:"key"`
	Patterns    []string  `yaml:"patterns" json:"patterns"`
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// Catalog bundles the target and expected field tables. It is treated as
// read-only once built; use Default or Load to obtain one.
type Catalog struct {
	Targets  []TargetField   `yaml:"targets"`
	Expected []ExpectedField `yaml:"expected"`
}

// Target looks up a target field by key.
func (c *Catalog) Target(key string) (TargetField, bool) {
	for _, t := range c.Targets {
		if t.Key == key {
			return t, true
		}
	}
	return TargetField{}, false
}

// RequiredExpected returns the expected fields flagged as required, in catalog order.
func (c *Catalog) RequiredExpected() []ExpectedField {
	var out []ExpectedField
	for _, e := range c.Expected {
		if e.Required {
			out = append(out, e)
		}
	}
	return out
}

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(\+62|62|0)8[1-9][0-9]{6,11}$`), // mobile
		regexp.MustCompile(`^(\+62|62|0)[1-9][0-9]{7,11}$`),  // landline
		regexp.MustCompile(`^[0-9]{10,13}$`),
	}
	phoneStrip = regexp.MustCompile(`[^0-9+]`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// StripPhone removes everything except digits and '+'.
func StripPhone(v string) string { return phoneStrip.ReplaceAllString(v, "") }

// IsIndonesianPhone reports whether v looks like an Indonesian phone number
// once punctuation and spaces are removed.
func IsIndonesianPhone(v string) bool {
	clean := StripPhone(v)
	for _, re := range phonePatterns {
		if re.MatchString(clean) {
			return true
		}
	}
	return false
}

// IsEmail performs a shape check only.
func IsEmail(v string) bool { return emailRe.MatchString(strings.TrimSpace(v)) }

// Check applies the named validator to v.
func (v Validator) Check(value string) bool {
	switch v {
	case ValidatorPhone:
		return IsIndonesianPhone(value)
	case ValidatorEmail:
		return IsEmail(value)
	default:
		return true
	}
}

func (v Validator) known() bool {
	switch v {
	case ValidatorNone, ValidatorPhone, ValidatorEmail:
		return true
	}
	return false
}

func (t FieldType) known() bool {
	switch t {
	case TypeText, TypePhone, TypeCategorical, TypeNumeric, TypeEmail, TypeDate:
		return true
	}
	return false
}

// ErrInvalidCatalog is returned when a catalog override fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Load reads a YAML catalog override from path. Sections left out of the file
// fall back to the defaults.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	def := Default()
	if len(c.Targets) == 0 {
		c.Targets = def.Targets
	}
	if len(c.Expected) == 0 {
		c.Expected = def.Expected
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks keys are present and unique and that validator and type
// names are known.
func (c *Catalog) Validate() error {
	seen := map[string]bool{}
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Key) == "" {
			return fmt.Errorf("%w: target %d has empty key", ErrInvalidCatalog, i)
		}
		if seen[t.Key] {
			return fmt.Errorf("%w: duplicate target key %q", ErrInvalidCatalog, t.Key)
		}
		seen[t.Key] = true
		if len(t.Patterns) == 0 {
			return fmt.Errorf("%w: target %q has no patterns", ErrInvalidCatalog, t.Key)
		}
		if !t.Validator.known() {
			return fmt.Errorf("%w: target %q has unknown validator %q", ErrInvalidCatalog, t.Key, t.Validator)
		}
	}
	seen = map[string]bool{}
	for i, e := range c.Expected {
		if strings.TrimSpace(e.Key) == "" {
			return fmt.Errorf("%w: expected field %d has empty key", ErrInvalidCatalog, i)
		}
		if seen[e.Key] {
			return fmt.Errorf("%w: duplicate expected key %q", ErrInvalidCatalog, e.Key)
		}
		seen[e.Key] = true
		if !e.Type.known() {
			return fmt.Errorf("%w: expected field %q has unknown type %q", ErrInvalidCatalog, e.Key, e.Type)
		}
	}
	return nil
}
