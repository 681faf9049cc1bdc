package fixture

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Record is one serialized entity.
type Record struct {
	// Model is the collection name, "<app>.<model>".
	Model string `json:"model"`

	// PK is the surrogate identifier, present only when identifiers are preserved.
	PK jsontext.Value `json:"pk,omitzero"`

	// Fields holds natural-key-resolved field values.
	Fields map[string]jsontext.Value `json:"fields"`
}

// Document is an ordered sequence of records persisted as one file.
type Document []Record

// Collections returns the distinct collection names in first-appearance order.
func (d Document) Collections() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range d {
		if seen[rec.Model] {
			continue
		}
		seen[rec.Model] = true
		names = append(names, rec.Model)
	}
	return names
}

// Count returns the number of records per collection.
func (d Document) Count() map[string]int {
	counts := make(map[string]int)
	for _, rec := range d {
		counts[rec.Model]++
	}
	return counts
}

// Encode writes doc as a two-space indented JSON array with sorted field
// names and a trailing newline.
func Encode(w io.Writer, doc Document) error {
	if doc == nil {
		doc = Document{}
	}
	err := json.MarshalWrite(w, doc,
		json.Deterministic(true),
		jsontext.Multiline(true),
		jsontext.WithIndent("  "),
	)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// Marshal returns the encoded form of doc.
func Marshal(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one fixture document.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	if err := json.UnmarshalRead(r, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	for i, rec := range doc {
		if rec.Model == "" {
			return nil, fmt.Errorf("%w: record %d has no model", ErrMalformedDocument, i)
		}
		if rec.Fields == nil {
			doc[i].Fields = map[string]jsontext.Value{}
		}
	}
	return doc, nil
}

// Unmarshal decodes a fixture document from data.
func Unmarshal(data []byte) (Document, error) {
	return Decode(bytes.NewReader(data))
}

// HasPK reports whether the record carries a surrogate identifier.
func (r Record) HasPK() bool {
	return len(r.PK) > 0 && r.PK.Kind() != 'n'
}
