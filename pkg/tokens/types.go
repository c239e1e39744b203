package tokens

import (
	"context"
	"fmt"
	"strings"
)

// DeviceID identifies a ledger entry. It is a client-generated opaque string,
// not an authenticated identity.
type DeviceID struct {
	value string
}

// NewDeviceID validates and normalizes a device id.
func NewDeviceID(raw string) (DeviceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DeviceID{}, fmt.Errorf("%w: empty value", ErrInvalidDeviceID)
	}
	if len(trimmed) < minDeviceIDLength {
		return DeviceID{}, fmt.Errorf("%w: shorter than %d characters", ErrInvalidDeviceID, minDeviceIDLength)
	}
	return DeviceID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id DeviceID) String() string {
	return id.value
}

// TokenCount is a strictly positive number of tokens to credit.
type TokenCount int64

// NewTokenCount validates a credit amount.
func NewTokenCount(raw int64) (TokenCount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidTokenCount)
	}
	return TokenCount(raw), nil
}

// Int64 returns the raw count.
func (count TokenCount) Int64() int64 {
	return int64(count)
}

// GrantMonths is the duration of an unlimited grant in 30-day months.
// Zero means permanent.
type GrantMonths int64

// NewGrantMonths validates an unlimited grant duration.
func NewGrantMonths(raw int64) (GrantMonths, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidGrantMonths)
	}
	return GrantMonths(raw), nil
}

// Int64 returns the raw month count.
func (months GrantMonths) Int64() int64 {
	return int64(months)
}

// Entry is the stored ledger state for one device.
type Entry struct {
	DeviceID               string
	PurchasedTotal         int64
	PurchasedUsed          int64
	FreeQuota              int64
	FreeUsed               int64
	Unlimited              bool
	UnlimitedExpiryUnixUTC int64
	CreatedUnixUTC         int64
}

// Status is the read view of a ledger entry after lazy expiry.
type Status struct {
	DeviceID           string
	PurchasedTotal     int64
	PurchasedUsed      int64
	FreeQuota          int64
	FreeUsed           int64
	Remaining          int64
	FreeTrialExhausted bool
	UnlimitedActive    bool
}

// DebitKind identifies which bucket a successful debit consumed.
type DebitKind string

const (
	DebitFree      DebitKind = "free"
	DebitPaid      DebitKind = "paid"
	DebitUnlimited DebitKind = "unlimited"
)

// UseResult reports the outcome of a debit attempt. A failed debit is a
// normal outcome, not an error; Kind is empty in that case.
type UseResult struct {
	Success   bool
	Remaining int64
	Kind      DebitKind
	Message   string
}

// Store is the persistence contract used by Service. Mutations run inside
// WithTx; the store must serialize transactions so read-modify-write of an
// entry is atomic, and must discard every write made by fn when fn returns an
// error.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreate(ctx context.Context, deviceID string, freeQuota int64, nowUnixUTC int64) (Entry, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, deviceID string) error
	MarkEventProcessed(ctx context.Context, eventID string, payload string) (bool, error)
}
