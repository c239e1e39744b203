// Package memstore provides the process-local tokens.Store. Balances do not
// survive a restart; deployments that need durability swap in the GORM-backed
// store instead.
package memstore

import (
	"context"
	"sync"

	"github.com/densematrix/voicemargin/pkg/tokens"
)

// Store keeps ledger entries in a map guarded by a single mutex. WithTx holds
// the mutex for the whole callback, so read-modify-write sequences inside a
// transaction are atomic with respect to every other operation; a failed
// callback restores the pre-transaction state.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	entries         map[string]tokens.Entry
	processedEvents map[string]struct{}
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		state: &state{
			entries:         make(map[string]tokens.Entry),
			processedEvents: make(map[string]struct{}),
		},
	}
}

// WithTx serializes fn against all other transactions and direct calls. When
// fn fails, every write it made is discarded.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore tokens.Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.state.clone()
	if err := fn(ctx, &txStore{state: store.state}); err != nil {
		store.state.restore(snapshot)
		return err
	}
	return nil
}

// GetOrCreate returns the entry for deviceID, creating a zeroed entry with the
// configured free quota on first sight.
func (store *Store) GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (tokens.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.getOrCreate(deviceID, freeQuota, nowUnixUTC)
}

// Save stores the entry.
func (store *Store) Save(ctx context.Context, entry tokens.Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.save(entry)
}

// Delete removes the entry, reverting the device to never-seen state.
func (store *Store) Delete(ctx context.Context, deviceID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.delete(deviceID)
}

// MarkEventProcessed records an external payment event id. It returns false
// when the id was already recorded.
func (store *Store) MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.markEventProcessed(eventID)
}

// txStore is the view handed to WithTx callbacks. The outer mutex is already
// held, so it touches state directly; a nested WithTx reuses the same view.
type txStore struct {
	state *state
}

func (tx *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore tokens.Store) error) error {
	return fn(ctx, tx)
}

func (tx *txStore) GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (tokens.Entry, error) {
	return tx.state.getOrCreate(deviceID, freeQuota, nowUnixUTC)
}

func (tx *txStore) Save(ctx context.Context, entry tokens.Entry) error {
	return tx.state.save(entry)
}

func (tx *txStore) Delete(ctx context.Context, deviceID string) error {
	return tx.state.delete(deviceID)
}

func (tx *txStore) MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error) {
	return tx.state.markEventProcessed(eventID)
}

func (currentState *state) getOrCreate(deviceID string, freeQuota int64, nowUnixUTC int64) (tokens.Entry, error) {
	if entry, exists := currentState.entries[deviceID]; exists {
		return entry, nil
	}
	entry := tokens.Entry{
		DeviceID:       deviceID,
		FreeQuota:      freeQuota,
		CreatedUnixUTC: nowUnixUTC,
	}
	currentState.entries[deviceID] = entry
	return entry, nil
}

func (currentState *state) save(entry tokens.Entry) error {
	currentState.entries[entry.DeviceID] = entry
	return nil
}

func (currentState *state) delete(deviceID string) error {
	delete(currentState.entries, deviceID)
	return nil
}

func (currentState *state) markEventProcessed(eventID string) (bool, error) {
	if _, seen := currentState.processedEvents[eventID]; seen {
		return false, nil
	}
	currentState.processedEvents[eventID] = struct{}{}
	return true, nil
}

func (currentState *state) clone() *state {
	entries := make(map[string]tokens.Entry, len(currentState.entries))
	for deviceID, entry := range currentState.entries {
		entries[deviceID] = entry
	}
	processedEvents := make(map[string]struct{}, len(currentState.processedEvents))
	for eventID := range currentState.processedEvents {
		processedEvents[eventID] = struct{}{}
	}
	return &state{entries: entries, processedEvents: processedEvents}
}

func (currentState *state) restore(snapshot *state) {
	currentState.entries = snapshot.entries
	currentState.processedEvents = snapshot.processedEvents
}
