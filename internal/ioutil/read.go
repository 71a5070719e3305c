package ioutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ReadLimited reads up to limit bytes from r for use in error messages and
// logs. A read failure is described in the result instead of being dropped.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return strings.TrimSpace(string(body))
}

// DecodeLimited decodes one JSON value of at most limit bytes from r into v
func DecodeLimited(r io.Reader, limit int64, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, limit))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding json body: %w", err)
	}
	return nil
}
