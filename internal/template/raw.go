package template

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rawItem is the document form of every item type. Both decoders fill it:
// JSON/YAML through the json tags, HCL through the hcl tags.
type rawItem struct {
	Type     string `json:"type" hcl:"type,label"`
	ID       string `json:"id,omitempty" hcl:"id,optional"`
	Name     string `json:"name,omitempty" hcl:"name,optional"`
	Hidden   bool   `json:"hidden,omitempty" hcl:"hidden,optional"`
	Disabled bool   `json:"disabled,omitempty" hcl:"disabled,optional"`
	Offset   int    `json:"offset,omitempty" hcl:"offset,optional"`
	Length   int    `json:"length,omitempty" hcl:"length,optional"`

	Items []*rawItem `json:"items,omitempty" hcl:"item,block"`

	Instances int           `json:"instances,omitempty" hcl:"instances,optional"`
	Prepend   []*rawItem    `json:"prependSubinstance,omitempty" hcl:"prepend,block"`
	Append    []*rawItem    `json:"appendSubinstance,omitempty" hcl:"append,block"`
	DisableIf *rawCondition `json:"disableSubinstanceIf,omitempty" hcl:"disable_if,block"`

	DataType      string         `json:"dataType,omitempty" hcl:"data_type,optional"`
	Bit           int            `json:"bit,omitempty" hcl:"bit,optional"`
	Binary        *rawBinary     `json:"binary,omitempty" hcl:"binary,block"`
	BigEndian     bool           `json:"bigEndian,omitempty" hcl:"big_endian,optional"`
	Nibble        int            `json:"nibble,omitempty" hcl:"nibble,optional"`
	Alphabet      string         `json:"alphabet,omitempty" hcl:"alphabet,optional"`
	Resource      string         `json:"resource,omitempty" hcl:"resource,optional"`
	Min           *float64       `json:"min,omitempty" hcl:"min,optional"`
	Max           *float64       `json:"max,omitempty" hcl:"max,optional"`
	Operations    []rawOperation `json:"operations,omitempty" hcl:"operation,block"`
	OverrideShift *rawShift      `json:"overrideShift,omitempty" hcl:"override_shift,block"`

	Flags []rawFlag `json:"flags,omitempty" hcl:"flag,block"`

	Control   *rawControl `json:"control,omitempty" hcl:"control,block"`
	Width     int         `json:"width,omitempty" hcl:"width,optional"`
	Algorithm string      `json:"algorithm,omitempty" hcl:"algorithm,optional"`
	Step      int         `json:"step,omitempty" hcl:"step,optional"`
	Salt      *rawItem    `json:"salt,omitempty" hcl:"salt,block"`

	Kind string `json:"kind,omitempty" hcl:"kind,optional"`
}

type rawCondition struct {
	Offset   int    `json:"offset" hcl:"offset,optional"`
	DataType string `json:"dataType,omitempty" hcl:"data_type,optional"`
	Bit      int    `json:"bit,omitempty" hcl:"bit,optional"`
	Operator string `json:"operator,omitempty" hcl:"operator,optional"`
	Value    int64  `json:"value" hcl:"value,optional"`
}

type rawBinary struct {
	BitStart  int `json:"bitStart" hcl:"bit_start,optional"`
	BitLength int `json:"bitLength" hcl:"bit_length"`
}

type rawOperation struct {
	Op        string  `json:"op" hcl:"op"`
	Value     float64 `json:"value,omitempty" hcl:"value,optional"`
	Precision int     `json:"precision,omitempty" hcl:"precision,optional"`
	From      string  `json:"from,omitempty" hcl:"from,optional"`
	To        string  `json:"to,omitempty" hcl:"to,optional"`
}

type rawShift struct {
	Parent string `json:"parent" hcl:"parent"`
	Shift  int    `json:"shift" hcl:"shift"`
}

type rawFlag struct {
	Offset   int    `json:"offset,omitempty" hcl:"offset,optional"`
	Bit      int    `json:"bit,omitempty" hcl:"bit,optional"`
	Label    string `json:"label,omitempty" hcl:"label,optional"`
	Hidden   bool   `json:"hidden,omitempty" hcl:"hidden,optional"`
	Disabled bool   `json:"disabled,omitempty" hcl:"disabled,optional"`
	Reversed bool   `json:"reversed,omitempty" hcl:"reversed,optional"`
}

type rawControl struct {
	OffsetStart int `json:"offsetStart" hcl:"offset_start"`
	OffsetEnd   int `json:"offsetEnd" hcl:"offset_end"`
}

type rawSignature struct {
	Offset int    `json:"offset" hcl:"offset,optional"`
	Hex    string `json:"hex,omitempty" hcl:"hex,optional"`
	Text   string `json:"text,omitempty" hcl:"text,optional"`
}

// bytes returns the signature bytes from either the hex or the text form.
func (s rawSignature) bytes() ([]byte, error) {
	if s.Hex != "" && s.Text != "" {
		return nil, fmt.Errorf("signature at 0x%X has both hex and text", s.Offset)
	}
	if s.Text != "" {
		return []byte(s.Text), nil
	}

	b, err := hex.DecodeString(strings.ReplaceAll(s.Hex, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("signature at 0x%X: %w", s.Offset, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("signature at 0x%X is empty", s.Offset)
	}

	return b, nil
}

type rawRegion struct {
	Name       string         `json:"name" hcl:"name,label"`
	Signatures []rawSignature `json:"signatures" hcl:"signature,block"`
}

type rawValidator struct {
	Prompt  string      `json:"prompt,omitempty" hcl:"prompt,optional"`
	Error   string      `json:"error,omitempty" hcl:"error,optional"`
	Regions []rawRegion `json:"regions,omitempty" hcl:"region,block"`
}

type rawLabel struct {
	Text  string `json:"text" hcl:"text"`
	Start int    `json:"start" hcl:"start"`
	End   int    `json:"end" hcl:"end"`
}

type rawAlphabet struct {
	Pad   int               `json:"pad,omitempty" hcl:"pad,optional"`
	Codes map[string]string `json:"codes" hcl:"codes"`
}

// rawResource accepts either a plain key->label map or the explicit form.
type rawResource struct {
	Values   map[string]string   `json:"values,omitempty" hcl:"values,optional"`
	Variants []map[string]string `json:"variants,omitempty" hcl:"variants,optional"`
	Compose  []string            `json:"compose,omitempty" hcl:"compose,optional"`
	Dynamic  bool                `json:"dynamic,omitempty" hcl:"dynamic,optional"`
}

// UnmarshalJSON decodes a resource in either form: a bare map of labels, a
// bare list of maps (variants) or an object with values/variants/compose/dynamic.
func (r *rawResource) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &r.Variants)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	explicit := false
	for _, k := range []string{"values", "variants", "compose", "dynamic"} {
		if _, ok := probe[k]; ok {
			explicit = true
		}
	}
	if !explicit {
		return json.Unmarshal(data, &r.Values)
	}

	type plain rawResource
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = rawResource(p)

	return nil
}

// jsonDocument is the YAML/JSON template document.
type jsonDocument struct {
	Name           string                 `json:"name,omitempty"`
	Validator      rawValidator           `json:"validator"`
	Items          []*rawItem             `json:"items"`
	Resources      map[string]rawResource `json:"resources,omitempty"`
	ResourceLabels map[string][]rawLabel  `json:"resourceLabels,omitempty"`
	Alphabets      map[string]rawAlphabet `json:"alphabets,omitempty"`
}

type hclResourceBlock struct {
	Name     string              `hcl:"name,label"`
	Values   map[string]string   `hcl:"values,optional"`
	Variants []map[string]string `hcl:"variants,optional"`
	Compose  []string            `hcl:"compose,optional"`
	Dynamic  bool                `hcl:"dynamic,optional"`
}

// hclDocument is the HCL template document.
type hclDocument struct {
	Name      string             `hcl:"name,optional"`
	Validator *rawValidator      `hcl:"validator,block"`
	Items     []*rawItem         `hcl:"item,block"`
	Resources []hclResourceBlock `hcl:"resource,block"`
	Labels    []hclLabel         `hcl:"resource_label,block"`
	Alphabets []hclAlphabetBlock `hcl:"alphabet,block"`
}

type hclLabel struct {
	Resource string `hcl:"resource,label"`
	Text     string `hcl:"text"`
	Start    int    `hcl:"start"`
	End      int    `hcl:"end"`
}

type hclAlphabetBlock struct {
	Name  string            `hcl:"name,label"`
	Pad   int               `hcl:"pad,optional"`
	Codes map[string]string `hcl:"codes"`
}

// toJSON folds an HCL document into the JSON document shape.
func (d hclDocument) toJSON() jsonDocument {
	out := jsonDocument{
		Name:           d.Name,
		Items:          d.Items,
		Resources:      map[string]rawResource{},
		ResourceLabels: map[string][]rawLabel{},
		Alphabets:      map[string]rawAlphabet{},
	}
	if d.Validator != nil {
		out.Validator = *d.Validator
	}
	for _, r := range d.Resources {
		out.Resources[r.Name] = rawResource{Values: r.Values, Variants: r.Variants, Compose: r.Compose, Dynamic: r.Dynamic}
	}
	for _, l := range d.Labels {
		out.ResourceLabels[l.Resource] = append(out.ResourceLabels[l.Resource], rawLabel{Text: l.Text, Start: l.Start, End: l.End})
	}
	for _, a := range d.Alphabets {
		out.Alphabets[a.Name] = rawAlphabet{Pad: a.Pad, Codes: a.Codes}
	}

	return out
}

// parseKey parses a resource or alphabet key written in decimal or 0x hex.
func parseKey(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad key %q", s)
	}

	return int(v), nil
}
