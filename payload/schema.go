package payload

import (
	"fmt"
)

// Schema defines the expected structure of a payload document.
// When a table carries a schema, unknown fields are rejected and
// missing fields are stored as null.
type Schema map[string]Kind

// Validate checks doc against the schema. Unknown fields and kind
// mismatches are errors; null satisfies any declared kind.
func (s Schema) Validate(doc Document) error {
	if s == nil {
		return nil
	}
	for k, v := range doc {
		expected, ok := s[k]
		if !ok {
			return fmt.Errorf("unknown field %q", k)
		}
		if !checkKind(v.Kind, expected) {
			return fmt.Errorf("field %q has invalid type %s, expected %s", k, v.Kind, expected)
		}
	}
	return nil
}

// Normalize returns doc with every declared-but-missing field stored as
// null. The input document is not modified.
func (s Schema) Normalize(doc Document) Document {
	if s == nil {
		return doc
	}
	out := doc.Clone()
	if out == nil {
		out = make(Document, len(s))
	}
	for k := range s {
		if _, ok := out[k]; !ok {
			out[k] = Null()
		}
	}
	return out
}

func checkKind(k, expected Kind) bool {
	if k == KindNull {
		return true
	}
	if expected == KindFloat {
		// Ints upgrade to floats.
		return k == KindFloat || k == KindInt
	}
	return k == expected
}
