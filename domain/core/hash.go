package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a sha256 content hash in lowercase hex
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first 12 hex characters for log lines
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Domain-specific hash types
type (
	FrameworkHash Hash
	CorpusHash    Hash
	BatchID       Hash
)

func (h FrameworkHash) String() string { return Hash(h).String() }
func (h CorpusHash) String() string    { return Hash(h).String() }
func (h BatchID) String() string       { return Hash(h).String() }

// NewBatchID derives the per-document scoring cache key. Each document is
// scored individually, so the key binds exactly one framework, one document
// and one model.
func NewBatchID(framework FrameworkHash, document Hash, model string) BatchID {
	var data strings.Builder
	data.WriteString(framework.String())
	data.WriteString("\x00")
	data.WriteString(document.String())
	data.WriteString("\x00")
	data.WriteString(model)
	return BatchID(NewHash([]byte(data.String())))
}

// CanonicalJSON serializes v with sorted object keys so equal values always
// produce equal bytes. Hash identity of structured artifacts is defined over
// this form.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	var out strings.Builder
	if err := writeCanonical(&out, decoded); err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}

// HashCanonical hashes the canonical-form serialization of v
func HashCanonical(v interface{}) (Hash, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return NewHash(data), nil
}

func writeCanonical(out *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				out.WriteString(",")
			}
			keyRaw, err := json.Marshal(k)
			if err != nil {
				return err
			}
			out.Write(keyRaw)
			out.WriteString(":")
			if err := writeCanonical(out, val[k]); err != nil {
				return err
			}
		}
		out.WriteString("}")
	case []interface{}:
		out.WriteString("[")
		for i, item := range val {
			if i > 0 {
				out.WriteString(",")
			}
			if err := writeCanonical(out, item); err != nil {
				return err
			}
		}
		out.WriteString("]")
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		out.Write(raw)
	}
	return nil
}
