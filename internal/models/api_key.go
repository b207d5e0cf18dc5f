package models

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxKeyNameLength mirrors the api_keys.key_name column width, in characters.
const MaxKeyNameLength = 50

// APIKey is a named, secret-backed access grant with a daily quota.
type APIKey struct {
	Name              string     `json:"key_name" db:"key_name"`
	SecretDigest      string     `json:"-" db:"key_value"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	DailyLimit        int64      `json:"rate_limit_per_day" db:"rate_limit_per_day"`
	RequestsMadeToday int64      `json:"requests_made_today" db:"requests_made_today"`
	LastRequestAt     *time.Time `json:"last_request_date" db:"last_request_date"` // Pointer to handle NULL
	OwnerContact      string     `json:"-" db:"owner_email"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// NewAPIKey holds the fields needed to insert a key.
type NewAPIKey struct {
	Name         string
	SecretDigest string
	OwnerContact string
	DailyLimit   int64
}

// UsageUpdate is what reconciliation writes back to the store.
type UsageUpdate struct {
	IsActive          bool
	RequestsMadeToday int64
	LastRequestAt     *time.Time
}

// Snapshot is the cached projection of an APIKey stored under auth:<name>.
type Snapshot struct {
	Name              string     `json:"key_name"`
	SecretDigest      string     `json:"key_value"`
	IsActive          bool       `json:"is_active"`
	DailyLimit        int64      `json:"rate_limit_per_day"`
	RequestsMadeToday int64      `json:"requests_made_today"`
	LastRequestAt     *time.Time `json:"last_request_date"`
}

// SnapshotOf projects the authentication-relevant fields of k.
func SnapshotOf(k *APIKey) Snapshot {
	return Snapshot{
		Name:              k.Name,
		SecretDigest:      k.SecretDigest,
		IsActive:          k.IsActive,
		DailyLimit:        k.DailyLimit,
		RequestsMadeToday: k.RequestsMadeToday,
		LastRequestAt:     k.LastRequestAt,
	}
}

// APIKey rebuilds a credential from the snapshot. Owner and creation time
// are not cached and come back zero.
func (s Snapshot) APIKey() *APIKey {
	return &APIKey{
		Name:              s.Name,
		SecretDigest:      s.SecretDigest,
		IsActive:          s.IsActive,
		DailyLimit:        s.DailyLimit,
		RequestsMadeToday: s.RequestsMadeToday,
		LastRequestAt:     s.LastRequestAt,
	}
}

// Encode serializes the snapshot for the cache.
func (s Snapshot) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeSnapshot strictly parses a cached snapshot. Any schema violation is
// reported as ErrCorrupt.
func DecodeSnapshot(raw string) (Snapshot, error) {
	var s Snapshot

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Snapshot{}, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}

	switch {
	case strings.TrimSpace(s.Name) == "":
		return Snapshot{}, fmt.Errorf("%w: missing key_name", ErrCorrupt)
	case s.SecretDigest == "":
		return Snapshot{}, fmt.Errorf("%w: missing key_value", ErrCorrupt)
	case s.DailyLimit <= 0:
		return Snapshot{}, fmt.Errorf("%w: rate_limit_per_day must be positive", ErrCorrupt)
	case s.RequestsMadeToday < 0:
		return Snapshot{}, fmt.Errorf("%w: negative requests_made_today", ErrCorrupt)
	}

	return s, nil
}

// ValidKeyName reports whether name can be used as a key name as given.
func ValidKeyName(name string) bool {
	if name == "" || !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxKeyNameLength {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n*?[]\\")
}
