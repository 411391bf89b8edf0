// Package payload decodes raw wire JSON into the generic document shape the
// serializer normalizes. Numbers are preserved as json.Number so attribute
// coercion decides their final representation.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// PreHook lets callers normalise a decoded document before the serializer
// sees it, e.g. to smooth over adapter-specific payload quirks.
type PreHook func(any) (any, error)

// Option configures a Decoder instance.
type Option func(*Decoder)

// Decoder converts raw payload bytes into generic JSON documents.
type Decoder struct {
	useNumber bool
	pre       []PreHook
}

// WithPreHook applies hook to each decoded document, in registration order.
func WithPreHook(hook PreHook) Option {
	return func(d *Decoder) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

// WithStdNumbers disables json.Number preservation and decodes numbers as
// float64.
func WithStdNumbers() Option {
	return func(d *Decoder) {
		d.useNumber = false
	}
}

// NewDecoder constructs a Decoder; numbers are preserved by default.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{useNumber: true}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode parses data into a generic document and rejects trailing content.
func (d *Decoder) Decode(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("payload: document is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if d.useNumber {
		dec.UseNumber()
	}

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("payload: decode: %w", err)
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return nil, fmt.Errorf("payload: trailing content after document")
	}

	for _, hook := range d.pre {
		adjusted, err := hook(doc)
		if err != nil {
			return nil, fmt.Errorf("payload: pre hook: %w", err)
		}
		doc = adjusted
	}
	return doc, nil
}

// Object reports v as a JSON object.
func Object(v any) (map[string]any, bool) {
	doc, ok := v.(map[string]any)
	return doc, ok
}

// Array reports v as a JSON array.
func Array(v any) ([]any, bool) {
	items, ok := v.([]any)
	return items, ok
}

// Float coerces the decoder's number representations into a float64.
func Float(v any) (float64, bool) {
	switch typed := v.(type) {
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}
