package tokens

import (
	"context"
	"fmt"
)

// Service contains the token accounting logic over a Store. It is the single
// source of truth for whether a device may perform a metered action.
type Service struct {
	store     Store
	freeQuota int64
	nowFn     func() int64
	logger    OperationLogger
}

// NewService wires a Service. freeQuota is the number of no-cost uses granted
// to every new device, fixed at entry creation.
func NewService(store Store, freeQuota int64, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if freeQuota < 0 {
		return nil, fmt.Errorf("%w: must not be negative", ErrInvalidFreeQuota)
	}
	service := &Service{store: store, freeQuota: freeQuota, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Status returns the current balance view for a device, creating the entry on
// first sight. A lapsed timed unlimited grant is cleared as part of this read;
// there is no background sweep.
func (service *Service) Status(ctx context.Context, deviceID DeviceID) (Status, error) {
	var status Status
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := service.loadEntry(ctx, transactionStore, deviceID)
		if err != nil {
			return err
		}
		status = statusFromEntry(entry)
		return nil
	})
	return status, err
}

// CanUse reports whether a device may perform a metered action. Computed via
// Status so the two can never disagree.
func (service *Service) CanUse(ctx context.Context, deviceID DeviceID) (bool, error) {
	status, err := service.Status(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return status.UnlimitedActive || status.Remaining > 0, nil
}

// Use debits one unit. Free-trial units drain before purchased units; an
// active unlimited grant bypasses counters entirely. An exhausted balance is
// reported through UseResult, not an error.
func (service *Service) Use(ctx context.Context, deviceID DeviceID) (UseResult, error) {
	var result UseResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := service.loadEntry(ctx, transactionStore, deviceID)
		if err != nil {
			return err
		}
		if entry.Unlimited {
			result = UseResult{Success: true, Remaining: UnlimitedRemaining, Kind: DebitUnlimited, Message: messageUnlimited}
			return nil
		}
		if entry.FreeUsed < entry.FreeQuota {
			entry.FreeUsed++
			if err := transactionStore.Save(ctx, entry); err != nil {
				return err
			}
			freeRemaining := entry.FreeQuota - entry.FreeUsed
			paidRemaining := entry.PurchasedTotal - entry.PurchasedUsed
			result = UseResult{
				Success:   true,
				Remaining: freeRemaining + paidRemaining,
				Kind:      DebitFree,
				Message:   fmt.Sprintf("Free trial: %d free uses remaining", freeRemaining),
			}
			return nil
		}
		if entry.PurchasedUsed < entry.PurchasedTotal {
			entry.PurchasedUsed++
			if err := transactionStore.Save(ctx, entry); err != nil {
				return err
			}
			remaining := entry.PurchasedTotal - entry.PurchasedUsed
			result = UseResult{
				Success:   true,
				Remaining: remaining,
				Kind:      DebitPaid,
				Message:   fmt.Sprintf("%d tokens remaining", remaining),
			}
			return nil
		}
		result = UseResult{Success: false, Remaining: 0, Message: messageNoTokens}
		return nil
	})
	logStatus := operationStatusOK
	if operationError == nil && !result.Success {
		logStatus = operationStatusDenied
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationUse,
		DeviceID:  deviceID,
		Amount:    1,
		Remaining: result.Remaining,
		Status:    logStatus,
		Error:     operationError,
	})
	return result, operationError
}

// Credit adds purchased tokens. It carries no deduplication of its own;
// payment events go through CreditForEvent instead.
func (service *Service) Credit(ctx context.Context, deviceID DeviceID, amount TokenCount) (Status, error) {
	var status Status
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		status, err = service.creditInTx(ctx, transactionStore, deviceID, amount)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		DeviceID:  deviceID,
		Amount:    amount.Int64(),
		Remaining: status.Remaining,
		Error:     operationError,
	})
	return status, operationError
}

// GrantUnlimited sets unlimited access. months > 0 grants now + 30*months
// days (a fixed 30-day month); 0 grants permanently. A new grant overwrites
// any prior one; expiry reverts to the untouched free/paid counters.
func (service *Service) GrantUnlimited(ctx context.Context, deviceID DeviceID, months GrantMonths) (Status, error) {
	var status Status
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		status, err = service.grantUnlimitedInTx(ctx, transactionStore, deviceID, months)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationGrantUnlimited,
		DeviceID:  deviceID,
		Amount:    months.Int64(),
		Remaining: status.Remaining,
		Error:     operationError,
	})
	return status, operationError
}

// Reset deletes the entry entirely, reverting the device to never-seen state.
// Operational and test use only.
func (service *Service) Reset(ctx context.Context, deviceID DeviceID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.Delete(ctx, deviceID.String())
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReset,
		DeviceID:  deviceID,
		Error:     operationError,
	})
	return operationError
}

// CreditForEvent credits tokens for an external payment event. The event mark
// and the credit commit in one store transaction: a redelivered event id is
// reported as not applied without touching the balance, and a failed credit
// rolls the mark back so the provider's retry can still land the purchase.
func (service *Service) CreditForEvent(ctx context.Context, eventID string, payload string, deviceID DeviceID, amount TokenCount) (Status, bool, error) {
	var status Status
	var applied bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		first, err := transactionStore.MarkEventProcessed(ctx, eventID, payload)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		status, err = service.creditInTx(ctx, transactionStore, deviceID, amount)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if applied || operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationCredit,
			DeviceID:  deviceID,
			Amount:    amount.Int64(),
			Remaining: status.Remaining,
			Error:     operationError,
		})
	}
	return status, applied, operationError
}

// GrantUnlimitedForEvent is GrantUnlimited with the same atomic event mark as
// CreditForEvent.
func (service *Service) GrantUnlimitedForEvent(ctx context.Context, eventID string, payload string, deviceID DeviceID, months GrantMonths) (Status, bool, error) {
	var status Status
	var applied bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		first, err := transactionStore.MarkEventProcessed(ctx, eventID, payload)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		status, err = service.grantUnlimitedInTx(ctx, transactionStore, deviceID, months)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if applied || operationError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationGrantUnlimited,
			DeviceID:  deviceID,
			Amount:    months.Int64(),
			Remaining: status.Remaining,
			Error:     operationError,
		})
	}
	return status, applied, operationError
}

func (service *Service) creditInTx(ctx context.Context, transactionStore Store, deviceID DeviceID, amount TokenCount) (Status, error) {
	entry, err := service.loadEntry(ctx, transactionStore, deviceID)
	if err != nil {
		return Status{}, err
	}
	entry.PurchasedTotal += amount.Int64()
	if err := transactionStore.Save(ctx, entry); err != nil {
		return Status{}, err
	}
	return statusFromEntry(entry), nil
}

func (service *Service) grantUnlimitedInTx(ctx context.Context, transactionStore Store, deviceID DeviceID, months GrantMonths) (Status, error) {
	entry, err := service.loadEntry(ctx, transactionStore, deviceID)
	if err != nil {
		return Status{}, err
	}
	entry.Unlimited = true
	if months.Int64() > 0 {
		entry.UnlimitedExpiryUnixUTC = service.nowFn() + months.Int64()*secondsPerGrantMonth
	} else {
		entry.UnlimitedExpiryUnixUTC = 0
	}
	if err := transactionStore.Save(ctx, entry); err != nil {
		return Status{}, err
	}
	return statusFromEntry(entry), nil
}

// loadEntry fetches (or lazily creates) the entry and clears a lapsed timed
// unlimited grant in the same transaction.
func (service *Service) loadEntry(ctx context.Context, transactionStore Store, deviceID DeviceID) (Entry, error) {
	nowUnixUTC := service.nowFn()
	entry, err := transactionStore.GetOrCreate(ctx, deviceID.String(), service.freeQuota, nowUnixUTC)
	if err != nil {
		return Entry{}, err
	}
	if entry.Unlimited && entry.UnlimitedExpiryUnixUTC != 0 && nowUnixUTC > entry.UnlimitedExpiryUnixUTC {
		entry.Unlimited = false
		entry.UnlimitedExpiryUnixUTC = 0
		if err := transactionStore.Save(ctx, entry); err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func statusFromEntry(entry Entry) Status {
	freeRemaining := entry.FreeQuota - entry.FreeUsed
	paidRemaining := entry.PurchasedTotal - entry.PurchasedUsed
	remaining := freeRemaining + paidRemaining
	if entry.Unlimited {
		remaining = UnlimitedRemaining
	}
	return Status{
		DeviceID:           entry.DeviceID,
		PurchasedTotal:     entry.PurchasedTotal,
		PurchasedUsed:      entry.PurchasedUsed,
		FreeQuota:          entry.FreeQuota,
		FreeUsed:           entry.FreeUsed,
		Remaining:          remaining,
		FreeTrialExhausted: entry.FreeUsed >= entry.FreeQuota,
		UnlimitedActive:    entry.Unlimited,
	}
}
