// Package canon provides the deterministic canonical forms the governance
// chain hashes and signs: a pipe-delimited record form for small key/value
// records (Golden Threads) and a sorted-key, whitespace-free JSON form for
// certificate and token payloads. Both are stable across runs and platforms.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
)

// HashPrefix precedes every canonical hash emitted by this package.
const HashPrefix = "sha256:"

// Record is a finite mapping of string keys to string values. Keys tagged
// in timestampKeys are normalised to RFC 3339 UTC before serialisation.
type Record map[string]string

// Canonical returns the canonical string form of r: keys sorted by
// lexicographic order of their UTF-8 bytes, joined as k=v with "|"
// separators. Values for keys listed in timestampKeys must parse as
// RFC 3339; they are normalised to UTC with a trailing Z and no
// sub-second fraction.
func Canonical(r Record, timestampKeys ...string) (string, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ts := make(map[string]bool, len(timestampKeys))
	for _, k := range timestampKeys {
		ts[k] = true
	}

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := r[k]
		if ts[k] {
			norm, err := NormalizeTimestamp(v)
			if err != nil {
				return "", err
			}
			v = norm
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "|"), nil
}

// Hash returns "sha256:" + lowercase hex of SHA-256 over the canonical
// form of r.
func Hash(r Record, timestampKeys ...string) (string, error) {
	c, err := Canonical(r, timestampKeys...)
	if err != nil {
		return "", err
	}
	return HashBytes([]byte(c)), nil
}

// HashBytes returns "sha256:" + lowercase hex of SHA-256 over data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// NormalizeTimestamp parses an RFC 3339 timestamp and re-emits it in UTC
// with second precision and a trailing Z. Fails with BadTimestamp when the
// value does not parse.
func NormalizeTimestamp(value string) (string, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", aigerr.Wrap(aigerr.BadTimestamp, err, "timestamp %q is not RFC 3339", value)
	}
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"), nil
}

// MarshalJSON serialises v as canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace, HTML escaping disabled.
// The value is first marshalled with its struct tags, then re-emitted
// through a generic tree so that key order is independent of field order.
func MarshalJSON(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json pre-marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	case string:
		return writeJSONString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

// writeJSONString emits s as a JSON string without HTML escaping.
func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder appends a newline; strip it.
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		buf.Truncate(len(b) - 1)
	}
	return nil
}
