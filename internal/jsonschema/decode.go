// Package jsonschema decodes line documents. Dataset files are mostly
// vanilla JSON, but because they are meant to be hand-edited by whoever
// maintains the timetable data, the loader tolerates // and /* */
// comments, stripping them before decode.
package jsonschema

import (
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/marcozac/go-jsonc"
)

// Decode sanitizes a possibly-commented JSON buffer and unmarshals it into
// v using goccy/go-json, which the loader uses in place of encoding/json
// for every line document it parses.
func Decode(raw []byte, v any) error {
	clean, err := jsonc.Sanitize(raw)
	if err != nil {
		return fmt.Errorf("sanitizing document: %w", err)
	}

	if err := gojson.Unmarshal(clean, v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}

// Encode marshals v with the same engine Decode uses, so a document
// serialised here re-enters Decode unchanged.
func Encode(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

// Valid reports whether raw is well-formed JSON once comments are stripped,
// without fully unmarshalling it. Used by the loader to distinguish
// MALFORMED_JSON from a schema mismatch further down the validation chain.
func Valid(raw []byte) bool {
	clean, err := jsonc.Sanitize(raw)
	if err != nil {
		return false
	}
	return gojson.Valid(clean)
}
