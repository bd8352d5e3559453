// Package scope identifies the independent units of synchronized state: one
// indicator matrix per meeting kind, branch and meeting date.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidKey = errors.New("invalid scope key")

// Key is the composite natural key of one indicator matrix. It is a value
// type: two keys are the same scope exactly when they compare equal.
type Key struct {
	Kind     string `json:"kind"`
	BranchID string `json:"branchId"`
	Date     Date   `json:"date"`
}

// MeetingKey identifies per-meeting metadata, which is shared by all
// branches of the same meeting.
type MeetingKey struct {
	Kind string `json:"kind"`
	Date Date   `json:"date"`
}

func NewKey(kind, branchID string, date Date) Key {
	return Key{Kind: kind, BranchID: branchID, Date: date}
}

func (k Key) Meeting() MeetingKey {
	return MeetingKey{Kind: k.Kind, Date: k.Date}
}

func (k Key) IsZero() bool { return k == Key{} }

// String renders kind/branch/date, the form used in logs and search ids.
func (k Key) String() string {
	return k.Kind + "/" + k.BranchID + "/" + k.Date.String()
}

func (k Key) Validate() error {
	switch {
	case strings.TrimSpace(k.Kind) == "":
		return fmt.Errorf("%w: kind required", ErrInvalidKey)
	case strings.TrimSpace(k.BranchID) == "":
		return fmt.Errorf("%w: branch required", ErrInvalidKey)
	case k.Date.IsZero():
		return fmt.Errorf("%w: date required", ErrInvalidKey)
	case strings.Contains(k.Kind, "/") || strings.Contains(k.BranchID, "/"):
		return fmt.Errorf("%w: kind and branch must not contain '/'", ErrInvalidKey)
	}
	return nil
}

func ParseKey(value string) (Key, error) {
	parts := strings.Split(value, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, value)
	}
	date, err := ParseDate(parts[2])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key := NewKey(parts[0], parts[1], date)
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

func (k MeetingKey) String() string {
	return k.Kind + "/" + k.Date.String()
}
