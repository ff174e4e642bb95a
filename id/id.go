// Package id defines TypeID-based identities for stock ledger entities.
//
// Every entity carries a single ID struct whose prefix names the entity
// kind. IDs are K-sortable (UUIDv7), globally unique and URL-safe in the
// form "prefix_suffix", so a roll ID can never be mistaken for an order ID.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity kind encoded in a TypeID.
type Prefix string

// Prefixes for every stock ledger entity.
const (
	PrefixRoll        Prefix = "roll" // Physical film roll
	PrefixConsumption Prefix = "crec" // Consumption record (roll -> job)
	PrefixJob         Prefix = "job"  // Work template
	PrefixOrder       Prefix = "ord"  // Work item in the planning queue
)

// ID is the identifier type shared by all entities.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix.
// It panics on an invalid prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "roll_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Entity aliases
// ──────────────────────────────────────────────────

// RollID identifies a FilmRoll (prefix: "roll").
type RollID = ID

// ConsumptionID identifies a consumption record (prefix: "crec").
type ConsumptionID = ID

// JobID identifies a job (prefix: "job").
type JobID = ID

// OrderID identifies an order (prefix: "ord").
type OrderID = ID

// NewRollID generates a new roll ID.
func NewRollID() ID { return New(PrefixRoll) }

// NewConsumptionID generates a new consumption record ID.
func NewConsumptionID() ID { return New(PrefixConsumption) }

// NewJobID generates a new job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewOrderID generates a new order ID.
func NewOrderID() ID { return New(PrefixOrder) }

// ParseRollID parses s and validates the "roll" prefix.
func ParseRollID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRoll) }

// ParseConsumptionID parses s and validates the "crec" prefix.
func ParseConsumptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixConsumption) }

// ParseJobID parses s and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseOrderID parses s and validates the "ord" prefix.
func ParseOrderID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOrder) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// Equal reports whether two IDs are the same identity.
func (i ID) Equal(other ID) bool { return i.String() == other.String() }

// Compare orders IDs lexically, which for IDs of the same prefix is
// generation order.
func (i ID) Compare(other ID) int { return strings.Compare(i.String(), other.String()) }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
