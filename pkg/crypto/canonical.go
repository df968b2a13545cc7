package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalMarshal encodes v as compact JSON for signing.
//
// Rules:
// 1. Struct fields are emitted in declaration order.
// 2. HTML escaping is disabled; only '"', '\\' and control characters are escaped
//    (plus U+2028/U+2029, which encoding/json always escapes).
// 3. No insignificant whitespace and no trailing newline.
// 4. Hash and AccountID values render as 0x-prefixed lowercase hex.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
