package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/resource"
)

func loadDemo(t *testing.T, name string) *Template {
	t.Helper()

	tmpl, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)

	return tmpl
}

func TestLoadDemoYAML(t *testing.T) {
	t.Parallel()

	tmpl := loadDemo(t, "demo.yaml")

	assert.Equal(t, "Demo Quest", tmpl.Name)
	assert.NotZero(t, tmpl.Digest)
	require.Len(t, tmpl.Validator.Regions, 2)
	assert.Equal(t, []byte("DQSV"), tmpl.Validator.Regions[0].Signatures[0].Bytes)
	assert.Equal(t, []byte{0x4A}, tmpl.Validator.Regions[1].Signatures[1].Bytes)
	assert.Equal(t, 5, tmpl.Validator.Extent())

	require.Len(t, tmpl.Items, 2)
	summary, ok := tmpl.Items[0].(*Section)
	require.True(t, ok)
	require.Len(t, summary.Items, 5)

	cs, ok := summary.Items[0].(*Checksum)
	require.True(t, ok)
	assert.Equal(t, codec.Uint16, cs.DataType())
	assert.Equal(t, 0x80, cs.Control.OffsetEnd)
	require.NotNil(t, cs.Salt)
	assert.Equal(t, "salt", cs.Salt.ID)

	heroes, ok := tmpl.Find("heroes").(*Container)
	require.True(t, ok)
	assert.Equal(t, 0x10, heroes.Stride())
	assert.Equal(t, 3, heroes.Instances)
	require.Len(t, heroes.Prepend, 1)
	require.Len(t, heroes.Append, 1)
	require.NotNil(t, heroes.DisableIf)

	status, ok := tmpl.Find("status").(*Variable)
	require.True(t, ok)
	assert.Equal(t, codec.Options{BitStart: 4, BitLength: 3}, status.Options())

	level := tmpl.Find("level").(*Variable)
	require.Len(t, level.Operations, 1)
	require.NotNil(t, level.Max)
	assert.Equal(t, 99.0, *level.Max)

	group := tmpl.Find("playtime").(*Group)
	assert.Equal(t, GroupTime, group.Kind)
	assert.Len(t, group.Items, 3)

	kinds := map[string]resource.Kind{}
	for _, d := range tmpl.Resources {
		kinds[d.Name] = d.Kind
	}
	assert.Equal(t, map[string]resource.Kind{
		"armor":     resource.Static,
		"gear":      resource.Composed,
		"occupants": resource.Dynamic,
		"towns":     resource.Variants,
		"weapons":   resource.Static,
	}, kinds)
	assert.Len(t, tmpl.ResourceLabels["gear"], 2)

	a, err := tmpl.Alphabet("dq")
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), a.Pad)
	assert.Equal(t, "BAD", a.Decode([]byte{0x01, 0x00, 0x03, 0xFF}))
}

func TestHCLMatchesYAML(t *testing.T) {
	t.Parallel()

	y := loadDemo(t, "demo.yaml")
	h := loadDemo(t, "demo.hcl")

	assert.Equal(t, y.Name, h.Name)
	assert.Equal(t, y.Validator, h.Validator)
	assert.Equal(t, y.Items, h.Items)
	assert.Equal(t, y.Resources, h.Resources)
	assert.Equal(t, y.ResourceLabels, h.ResourceLabels)
	assert.Equal(t, y.Alphabets, h.Alphabets)
	assert.NotEqual(t, y.Digest, h.Digest)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	doc := `{
  "items": [
    {"type": "variable", "id": "hp", "offset": 16, "dataType": "uint16", "bigEndian": true}
  ],
  "resources": {"flags": {"values": {"0x10": "sixteen"}}}
}`

	tmpl, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)

	hp := tmpl.Find("hp").(*Variable)
	assert.True(t, hp.BigEndian)
	assert.Equal(t, 16, hp.Offset)
	require.Len(t, tmpl.Resources, 1)
	assert.Equal(t, "sixteen", tmpl.Resources[0].Table[16])
}

func TestContainerFieldPastStride(t *testing.T) {
	t.Parallel()

	doc := `
items:
  - type: container
    id: slots
    offset: 0
    length: 0x690
    instances: 3
    items:
      - {type: variable, id: filename, offset: 0x73e, dataType: string, length: 8}
`
	tmpl, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)

	c := tmpl.Find("slots").(*Container)
	assert.Equal(t, 0x690, c.Stride())
	assert.Equal(t, 0x73e+8+2*0x690, Extent(c))
	assert.Equal(t, 0x73e, Start(c))
}

func TestParseRejectsInvalidTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown type", doc: `items: [{type: widget}]`},
		{name: "unknown data type", doc: `items: [{type: variable, dataType: uint12}]`},
		{name: "unknown key", doc: `items: [{type: variable, dataType: uint8, dataTyp: uint8}]`},
		{name: "bit out of range", doc: `items: [{type: variable, dataType: bit, bit: 8}]`},
		{name: "binary past byte", doc: `items: [{type: variable, dataType: uint8, binary: {bitStart: 6, bitLength: 4}}]`},
		{name: "binary on wide int", doc: `items: [{type: variable, dataType: uint16, binary: {bitStart: 0, bitLength: 4}}]`},
		{name: "string without length", doc: `items: [{type: variable, dataType: string}]`},
		{name: "unknown alphabet", doc: `items: [{type: variable, dataType: string, length: 2, alphabet: klingon}]`},
		{name: "negative offset", doc: `items: [{type: variable, dataType: uint8, offset: -1}]`},
		{name: "zero stride", doc: `items: [{type: container, length: 0, instances: 2}]`},
		{name: "zero instances", doc: `items: [{type: container, length: 4, instances: 0}]`},
		{name: "fields wider than stride", doc: `
items:
  - type: container
    length: 4
    instances: 2
    items:
      - {type: variable, offset: 0, dataType: uint16}
      - {type: variable, offset: 3, dataType: uint16}`},
		{name: "checksum inside own range", doc: `items: [{type: checksum, offset: 4, control: {offsetStart: 0, offsetEnd: 8}}]`},
		{name: "checksum width", doc: `items: [{type: checksum, offset: 8, width: 12, control: {offsetStart: 0, offsetEnd: 8}}]`},
		{name: "checksum without range", doc: `items: [{type: checksum, offset: 8}]`},
		{name: "checksum misaligned step", doc: `items: [{type: checksum, offset: 8, step: 2, control: {offsetStart: 0, offsetEnd: 7}}]`},
		{name: "group kind", doc: `items: [{type: group, kind: percent, items: [{dataType: uint8}, {dataType: uint8}]}]`},
		{name: "time group size", doc: `items: [{type: group, kind: time, items: [{dataType: uint8}]}]`},
		{name: "fraction group size", doc: `items: [{type: group, kind: fraction, items: [{dataType: uint8}]}]`},
		{name: "bad operation", doc: `items: [{type: variable, dataType: uint8, operations: [{op: div}]}]`},
		{name: "min above max", doc: `items: [{type: variable, dataType: uint8, min: 5, max: 1}]`},
		{name: "unknown resource", doc: `items: [{type: variable, dataType: uint8, resource: ghosts}]`},
		{name: "duplicate id", doc: `items: [{type: variable, id: a, dataType: uint8}, {type: variable, id: a, dataType: uint8}]`},
		{name: "missing shift parent", doc: `items: [{type: variable, dataType: uint8, overrideShift: {parent: nope, shift: 2}}]`},
		{name: "shift parent not a variable", doc: `
items:
  - {type: section, id: sec}
  - {type: variable, dataType: uint8, overrideShift: {parent: sec, shift: 2}}`},
		{name: "tabs with non tab", doc: `items: [{type: tabs, items: [{type: section}]}]`},
		{name: "compose unknown part", doc: `
resources:
  gear: {compose: [swords]}
items: []`},
		{name: "two resource forms", doc: `
resources:
  gear: {values: {0: a}, dynamic: true}
items: []`},
		{name: "label for unknown resource", doc: `
resourceLabels:
  gear: [{text: a, start: 0, end: 1}]
items: []`},
		{name: "bad condition", doc: `items: [{type: container, length: 2, instances: 2, disableSubinstanceIf: {operator: "~"}}]`},
		{name: "bad alphabet", doc: `
alphabets:
  bad: {codes: {"0x00": "AB"}}
items: []`},
		{name: "duplicate region", doc: `
validator:
  regions:
    - {name: eu, signatures: [{offset: 0, text: A}]}
    - {name: eu, signatures: [{offset: 0, text: B}]}
items: []`},
		{name: "bad signature hex", doc: `
validator:
  regions:
    - {name: eu, signatures: [{offset: 0, hex: "zz"}]}
items: []`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.doc), FormatYAML)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestParseRejectsInvalidHCL(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`item "variable" { data_type = "uint9" }`), FormatHCL)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte(`item "variable" { data_type = `), FormatHCL)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte(`item "variable" { colour = "red" }`), FormatHCL)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
		"a.hcl":  FormatHCL,
	} {
		got, err := FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatOf("a.toml")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "game.txt")
	require.NoError(t, os.WriteFile(path, []byte("items: []"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	tmpl := loadDemo(t, "demo.yaml")
	heroes := tmpl.Find("heroes").(*Container)

	c := Clone(heroes).(*Container)
	c.Hidden = true
	c.Items[1].Base().Disabled = true
	*c.Items[1].(*Variable).Max = 50
	c.DisableIf.Value = 0

	assert.False(t, heroes.Hidden)
	assert.False(t, heroes.Items[1].Base().Disabled)
	assert.Equal(t, 99.0, *heroes.Items[1].(*Variable).Max)
	assert.Equal(t, int64(255), heroes.DisableIf.Value)
}

func TestConditionEval(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, 0xFF, 0x05, 0x0C}
	tests := []struct {
		cond Condition
		base int
		want bool
	}{
		{cond: Condition{Offset: 1, Value: 255}, want: true},
		{cond: Condition{Offset: 0, Value: 255}, base: 1, want: true},
		{cond: Condition{Offset: 2, Operator: ">", Value: 4}, want: true},
		{cond: Condition{Offset: 2, Operator: "<=", Value: 4}, want: false},
		{cond: Condition{Offset: 3, Operator: "&", Value: 0x04}, want: true},
		{cond: Condition{Offset: 3, DataType: codec.Bit, Bit: 0, Operator: "!=", Value: 0}, want: false},
	}

	for _, tt := range tests {
		got, err := tt.cond.Eval(buf, tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%+v", tt.cond)
	}

	_, err := (&Condition{Offset: 9}).Eval(buf, 0)
	require.ErrorIs(t, err, codec.ErrOutOfBounds)
}

func TestWalkVisitsSaltsAndGroups(t *testing.T) {
	t.Parallel()

	tmpl := loadDemo(t, "demo.yaml")

	var ids []string
	require.NoError(t, Walk(tmpl.Items, func(it Item) error {
		if id := it.Base().ID; id != "" {
			ids = append(ids, id)
		}
		return nil
	}))

	assert.Equal(t, []string{
		"checksum", "salt", "gold", "playtime", "hours", "minutes", "seconds",
		"story", "town", "heroes", "partySize", "name", "level", "exp", "weapon",
		"hp", "mp", "status", "formation", "slot",
	}, ids)
}
