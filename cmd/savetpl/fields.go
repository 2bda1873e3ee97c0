package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/layout"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/session"
	"github.com/woozymasta/savetpl/internal/template"
)

// fieldDump is the printed form of one keyed item.
type fieldDump struct {
	Key      string     `json:"key"`
	Name     string     `json:"name,omitempty"`
	Type     string     `json:"type"`
	Offset   string     `json:"offset"`
	Value    any        `json:"value,omitempty"`
	Label    string     `json:"label,omitempty"`
	Flags    []flagDump `json:"flags,omitempty"`
	Hidden   bool       `json:"hidden,omitempty"`
	Disabled bool       `json:"disabled,omitempty"`
}

type flagDump struct {
	Index int    `json:"index"`
	Label string `json:"label,omitempty"`
	Set   bool   `json:"set"`
}

type checksumDump struct {
	Key    string `json:"key"`
	Stored string `json:"stored"`
	Valid  bool   `json:"valid"`
}

type saveDump struct {
	Template  string         `json:"template"`
	Region    string         `json:"region,omitempty"`
	Size      int            `json:"size"`
	Fields    []fieldDump    `json:"fields"`
	Checksums []checksumDump `json:"checksums,omitempty"`
}

// dumpable reports whether a node carries a value of its own.
func dumpable(n *layout.Node) bool {
	if n.Key == "" || n.Role == layout.Instance {
		return false
	}

	switch n.Item.(type) {
	case *template.Variable, *template.Bitflags, *template.Group, *template.Checksum:
		return true
	}

	return false
}

// readField reads the current value of a keyed item.
func readField(s *session.Session, n *layout.Node) (fieldDump, error) {
	f, err := s.Describe(n.Key)
	if err != nil {
		return fieldDump{}, err
	}

	d := fieldDump{
		Key:      n.Key,
		Name:     f.Item.Base().Name,
		Type:     template.TypeName(f.Item),
		Offset:   fmt.Sprintf("0x%X", f.Offset),
		Hidden:   f.Hidden,
		Disabled: f.Disabled,
	}

	switch it := f.Item.(type) {
	case *template.Variable:
		if it.DataType == codec.String {
			if d.Value, err = s.GetString(n.Key); err != nil {
				return d, err
			}
			break
		}

		v, err := s.GetValue(n.Key)
		if err != nil {
			return d, err
		}
		d.Value = v
		if it.Resource != "" {
			d.Label = label(s, n.Key)
		}

	case *template.Bitflags:
		for i, fl := range it.Flags {
			if fl.Hidden {
				continue
			}
			on, err := s.GetFlag(n.Key, i)
			if err != nil {
				return d, err
			}
			d.Flags = append(d.Flags, flagDump{Index: i, Label: fl.Label, Set: on})
		}

	case *template.Group:
		gv, err := s.GroupValue(n.Key)
		if err != nil {
			return d, err
		}
		d.Value = gv.Text

	case *template.Checksum:
		v, err := s.GetInt(n.Key)
		if err != nil {
			return d, err
		}
		d.Value = fmt.Sprintf("0x%X", v)
	}

	return d, nil
}

// label resolves a resource label; unresolvable values print without one.
func label(s *session.Session, key string) string {
	text, ok, err := s.Label(key)
	if err != nil || !ok {
		return ""
	}

	return text
}

// formatField renders a field for get.
func formatField(d fieldDump) string {
	var out string
	switch v := d.Value.(type) {
	case nil:
	case float64:
		out = formatNumber(v)
	case string:
		out = v
	default:
		out = fmt.Sprint(v)
	}

	if d.Label != "" {
		out += " (" + d.Label + ")"
	}

	if len(d.Flags) > 0 {
		parts := make([]string, len(d.Flags))
		for i, f := range d.Flags {
			parts[i] = fmt.Sprintf("%d:%t", f.Index, f.Set)
		}
		out = strings.Join(parts, " ")
	}

	return out
}

// readTarget reads one target for get.
func readTarget(s *session.Session, t target) (string, error) {
	if t.Flag >= 0 {
		on, err := s.GetFlag(t.Key, t.Flag)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(on), nil
	}

	n, err := s.Node(t.Key)
	if err != nil {
		return "", err
	}
	if !dumpable(n) {
		return "", fmt.Errorf("%w: %s is a %s", session.ErrKind, t.Key, template.TypeName(n.Item))
	}

	d, err := readField(s, n)
	if err != nil {
		return "", err
	}

	return formatField(d), nil
}

// writeTarget parses text for the kind of item at t and writes it. With raw
// set numeric variables are written as stored integers.
func writeTarget(s *session.Session, t target, text string, raw bool) error {
	if t.Flag >= 0 {
		on, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("%s/%d: %w", t.Key, t.Flag, err)
		}
		return s.SetFlag(t.Key, t.Flag, on)
	}

	n, err := s.Node(t.Key)
	if err != nil {
		return err
	}

	switch it := n.Item.(type) {
	case *template.Variable:
		if it.DataType == codec.String {
			return s.SetString(t.Key, text)
		}

		v, err := parseNumber(text)
		if err != nil {
			return fmt.Errorf("%s: %w", t.Key, err)
		}
		if raw {
			return s.SetInt(t.Key, int64(v))
		}
		return s.SetValue(t.Key, v)

	case *template.Group:
		return s.SetGroupValue(t.Key, text)

	case *template.Bitflags:
		return fmt.Errorf("%s: address a flag as %s/N", t.Key, t.Key)

	case *template.Checksum:
		return fmt.Errorf("%s: checksums are written by repair", t.Key)
	}

	return fmt.Errorf("%w: %s is a %s", session.ErrKind, t.Key, template.TypeName(n.Item))
}

// quiet reports errors a dump skips over instead of failing on: resource
// lookups without a provider and isolated hook failures.
func quiet(err error) bool {
	var he *hooks.Error
	return errors.Is(err, resource.ErrNoProvider) || errors.As(err, &he)
}
