package tokens

import (
	"context"
	"sync"
	"testing"
)

// stubStore is an in-package map-backed Store for service tests. The mutex
// matters: concurrency tests drive real goroutines through WithTx. A failed
// transaction restores the pre-transaction maps, matching the Store contract;
// saveErr injects a write failure.
type stubStore struct {
	mu              sync.Mutex
	entries         map[string]Entry
	processedEvents map[string]struct{}
	saveErr         error
}

func newStubStore() *stubStore {
	return &stubStore{
		entries:         make(map[string]Entry),
		processedEvents: make(map[string]struct{}),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	entriesSnapshot := make(map[string]Entry, len(store.entries))
	for deviceID, entry := range store.entries {
		entriesSnapshot[deviceID] = entry
	}
	eventsSnapshot := make(map[string]struct{}, len(store.processedEvents))
	for eventID := range store.processedEvents {
		eventsSnapshot[eventID] = struct{}{}
	}
	if err := fn(ctx, &stubTx{store: store}); err != nil {
		store.entries = entriesSnapshot
		store.processedEvents = eventsSnapshot
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getOrCreateLocked(deviceID, freeQuota, nowUnixUTC)
}

func (store *stubStore) Save(ctx context.Context, entry Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saveErr != nil {
		return store.saveErr
	}
	store.entries[entry.DeviceID] = entry
	return nil
}

func (store *stubStore) Delete(ctx context.Context, deviceID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, deviceID)
	return nil
}

func (store *stubStore) MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.markEventProcessedLocked(eventID)
}

func (store *stubStore) getOrCreateLocked(deviceID string, freeQuota int64, nowUnixUTC int64) (Entry, error) {
	if entry, exists := store.entries[deviceID]; exists {
		return entry, nil
	}
	entry := Entry{DeviceID: deviceID, FreeQuota: freeQuota, CreatedUnixUTC: nowUnixUTC}
	store.entries[deviceID] = entry
	return entry, nil
}

func (store *stubStore) markEventProcessedLocked(eventID string) (bool, error) {
	if _, seen := store.processedEvents[eventID]; seen {
		return false, nil
	}
	store.processedEvents[eventID] = struct{}{}
	return true, nil
}

type stubTx struct {
	store *stubStore
}

func (tx *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, tx)
}

func (tx *stubTx) GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (Entry, error) {
	return tx.store.getOrCreateLocked(deviceID, freeQuota, nowUnixUTC)
}

func (tx *stubTx) Save(ctx context.Context, entry Entry) error {
	if tx.store.saveErr != nil {
		return tx.store.saveErr
	}
	tx.store.entries[entry.DeviceID] = entry
	return nil
}

func (tx *stubTx) Delete(ctx context.Context, deviceID string) error {
	delete(tx.store.entries, deviceID)
	return nil
}

func (tx *stubTx) MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error) {
	return tx.store.markEventProcessedLocked(eventID)
}

type manualClock struct {
	mu  sync.Mutex
	now int64
}

func (clock *manualClock) Now() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(seconds int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now += seconds
}

func mustNewService(test *testing.T, store Store, freeQuota int64, clock *manualClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, freeQuota, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustDeviceID(test *testing.T, raw string) DeviceID {
	test.Helper()
	deviceID, err := NewDeviceID(raw)
	if err != nil {
		test.Fatalf("device id %q: %v", raw, err)
	}
	return deviceID
}

func mustTokenCount(test *testing.T, raw int64) TokenCount {
	test.Helper()
	count, err := NewTokenCount(raw)
	if err != nil {
		test.Fatalf("token count %d: %v", raw, err)
	}
	return count
}

func mustGrantMonths(test *testing.T, raw int64) GrantMonths {
	test.Helper()
	months, err := NewGrantMonths(raw)
	if err != nil {
		test.Fatalf("grant months %d: %v", raw, err)
	}
	return months
}
