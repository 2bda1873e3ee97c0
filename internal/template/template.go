// Package template loads save-file templates: the validator, the item tree,
// resources and alphabets of one game.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/invopop/yaml"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/validator"
)

// ErrInvalid indicates a malformed template.
var ErrInvalid = errors.New("template: invalid")

// Format is a template document format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	}

	return "", fmt.Errorf("template: unknown format for %s", path)
}

// Template is a loaded, validated game template. It is read-only.
type Template struct {
	Name           string
	Validator      validator.Validator
	Items          []Item
	Resources      []resource.Definition
	ResourceLabels map[string][]resource.Label
	Alphabets      map[string]*codec.Alphabet
	Digest         uint64 // xxhash of the source document
}

// Load reads and parses a template file.
func Load(path string) (*Template, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	t, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}

// Parse decodes and validates a template document.
func Parse(data []byte, format Format) (*Template, error) {
	var doc jsonDocument

	switch format {
	case FormatYAML, FormatJSON:
		if err := yaml.Unmarshal(data, &doc, strict); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}

	case FormatHCL:
		f, diags := hclparse.NewParser().ParseHCL(data, "template.hcl")
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, diags)
		}

		var hd hclDocument
		if diags := gohcl.DecodeBody(f.Body, nil, &hd); diags.HasErrors() {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, diags)
		}
		doc = hd.toJSON()

	default:
		return nil, fmt.Errorf("template: unknown format %q", format)
	}

	t, err := build(doc)
	if err != nil {
		return nil, err
	}
	t.Digest = xxhash.Sum64(data)

	return t, nil
}

// strict rejects unknown document keys.
func strict(d *json.Decoder) *json.Decoder {
	d.DisallowUnknownFields()
	return d
}

// Alphabet returns the alphabet a string variable names; "" is ASCII.
func (t *Template) Alphabet(name string) (*codec.Alphabet, error) {
	if name == "" {
		return codec.ASCII(), nil
	}
	if a, ok := t.Alphabets[name]; ok {
		return a, nil
	}
	if a, ok := codec.Named(name); ok {
		return a, nil
	}

	return nil, fmt.Errorf("%w: unknown alphabet %q", ErrInvalid, name)
}

// Find returns the first item with the given id.
func (t *Template) Find(id string) Item {
	var found Item
	_ = Walk(t.Items, func(it Item) error {
		if it.Base().ID == id {
			found = it
			return errStop
		}
		return nil
	})

	return found
}

var errStop = errors.New("stop")

// Walk visits items depth-first in document order, including checksum salts.
// A non-nil error from fn stops the walk and is returned.
func Walk(items []Item, fn func(Item) error) error {
	if err := walk(items, fn); err != nil && !errors.Is(err, errStop) {
		return err
	}

	return nil
}

func walk(items []Item, fn func(Item) error) error {
	for _, it := range items {
		if err := fn(it); err != nil {
			return err
		}
		if c, ok := it.(*Checksum); ok && c.Salt != nil {
			if err := fn(c.Salt); err != nil {
				return err
			}
		}
		if err := walk(Children(it), fn); err != nil {
			return err
		}
	}

	return nil
}
