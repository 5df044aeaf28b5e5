package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies which generation tool produced an image's metadata.
type Source string

const (
	SourceA1111   Source = "a1111"
	SourceComfyUI Source = "comfyui"
	SourceUnknown Source = "unknown"
)

// Record is the normalized metadata extracted from a single image.
// File identity fields are passed through from the caller, not computed here.
type Record struct {
	FilePath     string    `json:"file_path"`
	FileName     string    `json:"file_name"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	FileSize     int64     `json:"file_size"`
	ModifiedTime time.Time `json:"modified_time"`

	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Model          string  `json:"model"`
	ModelHash      string  `json:"model_hash"`
	Sampler        string  `json:"sampler"`
	Steps          int     `json:"steps"`
	CFGScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`

	Source      Source `json:"source"`
	RawMetadata string `json:"raw_metadata"`

	Loras []string `json:"loras"`
	Extra *Params  `json:"extra_params"`
}

// Dimensions returns the pixel dimensions as a "WxH" string.
func (r *Record) Dimensions() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// FullPrompt returns the prompt with the negative prompt appended in the
// A1111 display convention.
func (r *Record) FullPrompt() string {
	if r.NegativePrompt == "" {
		return r.Prompt
	}
	return r.Prompt + "\nNegative prompt: " + r.NegativePrompt
}

// MatchesFilter reports whether the prompt contains every include term and
// none of the exclude terms, case-insensitively.
func (r *Record) MatchesFilter(include, exclude []string) bool {
	prompt := strings.ToLower(r.Prompt)
	for _, term := range include {
		if !strings.Contains(prompt, strings.ToLower(term)) {
			return false
		}
	}
	for _, term := range exclude {
		if strings.Contains(prompt, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// Builder accumulates a Record while the dispatched parser and its
// sub-routines run. Build returns the finished Record; the builder itself
// is never shared between parses.
type Builder struct {
	Record
}

// NewBuilder returns a Builder with every field at its default.
func NewBuilder() *Builder {
	b := &Builder{}
	b.Extra = NewParams()
	return b
}

// Build finalizes the record. The returned Record owns copies of the loras
// list and extra params, so later builder mutation cannot leak into it.
func (b *Builder) Build() *Record {
	rec := b.Record
	if b.Loras != nil {
		rec.Loras = append([]string(nil), b.Loras...)
	}
	rec.Extra = b.Extra.clone()
	return &rec
}

// Params is a string-to-string map that preserves insertion order, used for
// every extracted field that is not promoted to a typed column. Overwriting
// an existing key keeps its original position.
type Params struct {
	keys   []string
	values map[string]string
}

func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

func (p *Params) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []string {
	return append([]string(nil), p.keys...)
}

func (p *Params) Len() int {
	return len(p.keys)
}

func (p *Params) clone() *Params {
	np := NewParams()
	for _, k := range p.keys {
		np.Set(k, p.values[k])
	}
	return np
}

// MarshalJSON writes the params as a JSON object in insertion order.
func (p *Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving document key order.
func (p *Params) UnmarshalJSON(data []byte) error {
	p.keys = nil
	p.values = make(map[string]string)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object for params, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected string key, got %v", keyTok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		p.Set(key, value)
	}
	return nil
}
