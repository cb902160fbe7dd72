package models

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// derivedIDNamespace scopes deterministic IDs produced by DeriveID
var derivedIDNamespace = uuid.MustParse("6f1c2f1e-3a8d-4c55-9a57-2b7e4d1c0a90")

// ID represents a unique identifier
type ID string

// GenerateUUID creates a new UUID
func GenerateUUID() ID {
	return ID(uuid.New().String())
}

// NewID creates an ID from string
func NewID(id string) (ID, error) {
	_, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}
	return ID(id), nil
}

// DeriveID builds a stable name-based UUID from the given parts.
// The same parts always yield the same ID.
func DeriveID(parts ...string) ID {
	return ID(uuid.NewSHA1(derivedIDNamespace, []byte(strings.Join(parts, "|"))).String())
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is empty
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// Ptr returns a pointer to a copy of the ID
func (id ID) Ptr() *ID {
	return &id
}

// Version represents entity version for optimistic locking
type Version struct {
	Value int
}

// NewVersion creates new version
func NewVersion() Version {
	return Version{Value: 1}
}

// Update increments version
func (v Version) Update() Version {
	v.Value++
	return v
}

// Follows reports whether v is exactly one step after previous
func (v Version) Follows(previous Version) bool {
	return v.Value == previous.Value+1
}

// Money represents monetary amount
type Money struct {
	Amount   int64  `json:"amount"`   // Amount in cents
	Currency string `json:"currency"` // Currency code (USD, EUR, etc.)
}

// NewMoney creates a new money value
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// IsZero checks if money is zero
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive checks if money is positive
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// Validate checks that a quoted amount is usable
func (m Money) Validate() error {
	if m.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	if m.Amount > 0 && len(m.Currency) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	return nil
}
