package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec converts between bytes and a Document.
// Encode must be deterministic: the same document always yields the same bytes.
type Codec interface {
	Name() string
	Decode(data []byte) (Document, error)
	Encode(doc Document) ([]byte, error)
}

// CodecFor picks a codec from the file extension. Unknown extensions use JSON.
func CodecFor(path string) Codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	default:
		return JSONCodec{}
	}
}

// JSONCodec reads and writes JSON objects with sorted keys and two-space indent.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Decode implements Codec. Numbers are kept as json.Number so they round-trip unchanged.
func (JSONCodec) Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("top-level JSON value must be an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level JSON object")
	}
	return doc, nil
}

// Encode implements Codec. encoding/json sorts map keys.
func (JSONCodec) Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// YAMLCodec reads and writes YAML mappings with sorted keys and two-space indent.
type YAMLCodec struct{}

// Name implements Codec.
func (YAMLCodec) Name() string { return "yaml" }

// Decode implements Codec.
func (YAMLCodec) Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return Document{}, nil
	}
	return doc, nil
}

// Encode implements Codec. yaml.v3 emits map keys in sorted order.
func (YAMLCodec) Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
