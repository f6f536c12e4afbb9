package contracts

import (
	"fmt"
	"strings"
)

// RecordID is the ledger-assigned identifier of an encrypted record.
type RecordID uint64

// Field selects which encrypted field of a record a decryption targets.
type Field int

const (
	// FieldValue is the encrypted score.
	FieldValue Field = iota
	// FieldFlag is the encrypted pass flag.
	FieldFlag
)

func (f Field) String() string {
	switch f {
	case FieldValue:
		return "value"
	case FieldFlag:
		return "flag"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// ParseField accepts "value"/"score" and "flag"/"pass".
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "value", "score":
		return FieldValue, nil
	case "flag", "pass":
		return FieldFlag, nil
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// Record is one encrypted record owned by the active identity.
//
// Handles never change once the ledger created the record. Value and Flag go
// from nil to set exactly once; a set field is never overwritten or cleared.
type Record struct {
	ID          RecordID `json:"id"`
	Label       string   `json:"label"`
	ValueHandle Handle   `json:"value_handle"`
	FlagHandle  Handle   `json:"flag_handle"`
	Value       *uint64  `json:"value,omitempty"`
	Flag        *bool    `json:"flag,omitempty"`
}

// Handle returns the ciphertext handle backing field f.
func (r Record) Handle(f Field) Handle {
	if f == FieldFlag {
		return r.FlagHandle
	}
	return r.ValueHandle
}

// Decrypted reports whether field f already holds a plaintext.
func (r Record) Decrypted(f Field) bool {
	if f == FieldFlag {
		return r.Flag != nil
	}
	return r.Value != nil
}

// WithClear returns a copy of r with field f set from plain. The second
// result is false, and r is returned unchanged, when f was already set.
func (r Record) WithClear(f Field, plain uint64) (Record, bool) {
	if r.Decrypted(f) {
		return r, false
	}
	out := r
	switch f {
	case FieldFlag:
		b := plain != 0
		out.Flag = &b
	default:
		v := plain
		out.Value = &v
	}
	return out, true
}

// CarryClear copies decrypted fields from prev into r when the handles they
// were decrypted from are unchanged.
func (r Record) CarryClear(prev Record) Record {
	out := r
	if out.Value == nil && prev.Value != nil && prev.ValueHandle == r.ValueHandle {
		v := *prev.Value
		out.Value = &v
	}
	if out.Flag == nil && prev.Flag != nil && prev.FlagHandle == r.FlagHandle {
		b := *prev.Flag
		out.Flag = &b
	}
	return out
}
