// Package profile describes source-format profiles for statement exports:
// encoding, delimiter, column mapping, date format, and sign convention.
// Profiles ship embedded and can be extended or overridden from a YAML file.
package profile

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var embeddedProfiles []byte

// Columns lists candidate header names per canonical field. Header matching
// is case-insensitive containment, so "Betrag (EUR)" resolves "Betrag".
type Columns struct {
	Date        []string `yaml:"date"`
	PostingDate []string `yaml:"posting_date"`
	Description []string `yaml:"description"`
	Amount      []string `yaml:"amount"`
	Currency    []string `yaml:"currency"`
}

// Profile declares how one bank's tabular export is decoded.
type Profile struct {
	Name          string  `yaml:"-"`
	Encoding      string  `yaml:"encoding"`
	Delimiter     string  `yaml:"delimiter"`
	DateFormat    string  `yaml:"date_format"`
	SkipRows      int     `yaml:"skip_rows"`
	SpendPositive bool    `yaml:"spend_positive"` // true when the source lists charges as positive numbers
	DecimalSep    string  `yaml:"decimal_separator"`
	ThousandsSep  string  `yaml:"thousands_separator"`
	Currency      string  `yaml:"currency"`
	Columns       Columns `yaml:"columns"`
}

type profileFile struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// Set is a named collection of profiles.
type Set struct {
	profiles map[string]*Profile
}

// LoadEmbedded loads the built-in profiles compiled into the binary.
func LoadEmbedded() (*Set, error) {
	return parse(embeddedProfiles)
}

// LoadFromFile loads the built-in profiles and overlays definitions from
// path. File entries win over built-ins of the same name.
func LoadFromFile(path string) (*Set, error) {
	set, err := LoadEmbedded()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	extra, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile file %s: %w", path, err)
	}
	for name, p := range extra.profiles {
		set.profiles[name] = p
	}
	return set, nil
}

func parse(data []byte) (*Set, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}

	set := &Set{profiles: make(map[string]*Profile, len(f.Profiles))}
	for name, p := range f.Profiles {
		p.Name = name
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		set.profiles[name] = p
	}
	return set, nil
}

func (p *Profile) validate() error {
	if utf8.RuneCountInString(p.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", p.Delimiter)
	}
	if p.DateFormat == "" {
		return fmt.Errorf("date_format is required")
	}
	if p.DecimalSep == "" {
		return fmt.Errorf("decimal_separator is required")
	}
	if len(p.Columns.Date) == 0 || len(p.Columns.Amount) == 0 {
		return fmt.Errorf("columns.date and columns.amount are required")
	}
	switch strings.ToLower(p.Encoding) {
	case "", "utf-8", "utf8", "iso-8859-1", "latin1":
	default:
		return fmt.Errorf("unsupported encoding %q", p.Encoding)
	}
	if p.Currency == "" {
		p.Currency = "EUR"
	}
	return nil
}

// Get returns the named profile.
func (s *Set) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown format profile %q (have: %s)", name, strings.Join(s.Names(), ", "))
	}
	return p, nil
}

// Names returns the sorted profile names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect sniffs the source profile from raw export content. Falls back to
// "generic" when nothing matches; returns nil only if the set has neither a
// recognized profile nor a generic one.
func (s *Set) Detect(content []byte) *Profile {
	lower := strings.ToLower(string(content))

	pick := func(name string) *Profile {
		if p, ok := s.profiles[name]; ok {
			return p
		}
		return nil
	}

	if strings.Contains(lower, "american express") || strings.Contains(lower, "amex") {
		if p := pick("amex"); p != nil {
			return p
		}
	}
	if strings.Contains(lower, "deutsche kreditbank") || strings.Contains(lower, "dkb") {
		if p := pick("visa_dkb"); p != nil {
			return p
		}
	}
	if strings.Contains(lower, "sparkasse") {
		if p := pick("mastercard_sparkasse"); p != nil {
			return p
		}
	}

	// Column-name heuristics over the first few lines.
	lines := strings.SplitN(string(content), "\n", 11)
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		if strings.Contains(line, "Belegdatum") && strings.Contains(line, ";") {
			if p := pick("visa_dkb"); p != nil {
				return p
			}
		}
		if strings.Contains(line, "Buchungstag") && strings.Contains(line, ";") {
			if p := pick("mastercard_sparkasse"); p != nil {
				return p
			}
		}
	}

	// Semicolon-delimited content is almost certainly a German export.
	head := lower
	if len(head) > 500 {
		head = head[:500]
	}
	if strings.Contains(head, ";") {
		if p := pick("visa_dkb"); p != nil {
			return p
		}
	}

	return pick("generic")
}

// DelimiterRune returns the CSV delimiter as a rune.
func (p *Profile) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(p.Delimiter)
	return r
}

// DecodeReader wraps r with a charset decoder matching the profile's
// declared encoding.
func (p *Profile) DecodeReader(r io.Reader) io.Reader {
	switch strings.ToLower(p.Encoding) {
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder().Reader(r)
	default:
		return r
	}
}
