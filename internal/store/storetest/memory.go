// Package storetest provides an in-memory APIKey store for tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

// Memory mimics store.APIKeyStore semantics without Postgres.
type Memory struct {
	mu   sync.Mutex
	keys map[string]models.APIKey

	// FailUpdate makes Update return an error for the named keys.
	FailUpdate map[string]error
	// Err, when set, is returned by every call.
	Err error

	Updates int
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]models.APIKey), FailUpdate: make(map[string]error)}
}

func (m *Memory) Get(ctx context.Context, name string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	k, ok := m.keys[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &k, nil
}

func (m *Memory) Create(ctx context.Context, in models.NewAPIKey) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: blank name", models.ErrDuplicateName)
	}
	if _, ok := m.keys[in.Name]; ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicateName, in.Name)
	}
	limit := in.DailyLimit
	if limit <= 0 {
		limit = 100
	}
	k := models.APIKey{
		Name:         in.Name,
		SecretDigest: in.SecretDigest,
		IsActive:     true,
		DailyLimit:   limit,
		OwnerContact: in.OwnerContact,
		CreatedAt:    time.Now(),
	}
	m.keys[in.Name] = k
	return &k, nil
}

func (m *Memory) Update(ctx context.Context, name string, u models.UsageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if err := m.FailUpdate[name]; err != nil {
		return err
	}
	k, ok := m.keys[name]
	if !ok {
		return models.ErrNotFound
	}
	k.IsActive = u.IsActive
	k.RequestsMadeToday = u.RequestsMadeToday
	k.LastRequestAt = u.LastRequestAt
	m.keys[name] = k
	m.Updates++
	return nil
}

func (m *Memory) SetUsage(ctx context.Context, name string, count int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k, ok := m.keys[name]
	if !ok {
		return models.ErrNotFound
	}
	k.RequestsMadeToday = count
	m.keys[name] = k
	return nil
}

func (m *Memory) ResetDaily(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for name, k := range m.keys {
		if k.RequestsMadeToday != 0 || !k.IsActive {
			k.RequestsMadeToday = 0
			k.IsActive = true
			m.keys[name] = k
			n++
		}
	}
	return n, nil
}

// Put seeds a key directly.
func (m *Memory) Put(k models.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.Name] = k
}

// Snapshot returns a copy of the stored key.
func (m *Memory) Snapshot(name string) (models.APIKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[name]
	return k, ok
}
