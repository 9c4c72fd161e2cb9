package domain

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// LedgerID is the 32-byte identifier invoices and subscriptions carry on the
// smart-contract ledger. The canonical text form is 64 lowercase hex characters.
type LedgerID [32]byte

// NewLedgerID generates a random ledger identifier.
func NewLedgerID() (LedgerID, error) {
	var id LedgerID
	if _, err := rand.Read(id[:]); err != nil {
		return LedgerID{}, fmt.Errorf("generating ledger id: %w", err)
	}
	return id, nil
}

// ParseLedgerID parses the canonical 64-hex form. It rejects anything that
// does not round-trip to exactly 32 bytes, including uppercase input and
// 0x-prefixed strings.
func ParseLedgerID(s string) (LedgerID, error) {
	var id LedgerID
	if len(s) != 64 {
		return id, fmt.Errorf("ledger id must be 64 hex characters, got %d", len(s))
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return id, fmt.Errorf("ledger id contains non-lowercase-hex character %q", c)
		}
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decoding ledger id: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the canonical 64-hex form.
func (id LedgerID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is all zero bytes.
func (id LedgerID) IsZero() bool {
	return id == LedgerID{}
}

// Value implements driver.Valuer so repositories can bind LedgerID directly.
func (id LedgerID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner for the canonical text column form.
func (id *LedgerID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseLedgerID(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case []byte:
		parsed, err := ParseLedgerID(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into LedgerID", src)
	}
}

// MarshalText renders the canonical hex form in JSON payloads.
func (id LedgerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical hex form from JSON payloads.
func (id *LedgerID) UnmarshalText(b []byte) error {
	parsed, err := ParseLedgerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
