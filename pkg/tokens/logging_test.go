package tokens

import (
	"context"
	"errors"
	"testing"
)

type recordingLogger struct {
	logs []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.logs = append(logger.logs, entry)
}

func TestOperationLoggerReceivesStatus(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	service := mustNewService(test, newStubStore(), 1, &manualClock{now: 1000}, WithOperationLogger(logger))
	deviceID := mustDeviceID(test, "device-logged-1")

	if _, err := service.Use(context.Background(), deviceID); err != nil {
		test.Fatalf("use: %v", err)
	}
	if _, err := service.Use(context.Background(), deviceID); err != nil {
		test.Fatalf("second use: %v", err)
	}

	if len(logger.logs) != 2 {
		test.Fatalf("expected 2 log entries, got %d", len(logger.logs))
	}
	if logger.logs[0].Status != "ok" {
		test.Fatalf("expected first debit logged ok, got %q", logger.logs[0].Status)
	}
	if logger.logs[1].Status != "denied" {
		test.Fatalf("expected second debit logged denied, got %q", logger.logs[1].Status)
	}
	if logger.logs[0].Operation != "use" {
		test.Fatalf("unexpected operation %q", logger.logs[0].Operation)
	}
}

type failingStore struct {
	*stubStore
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return errors.New("store offline")
}

func TestOperationLoggerRecordsFailures(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	service := mustNewService(test, &failingStore{stubStore: newStubStore()}, 1, &manualClock{now: 1000}, WithOperationLogger(logger))
	deviceID := mustDeviceID(test, "device-offline")

	if _, err := service.Use(context.Background(), deviceID); err == nil {
		test.Fatal("expected store failure to propagate")
	}
	if len(logger.logs) != 1 || logger.logs[0].Status != "error" {
		test.Fatalf("expected one error log entry, got %+v", logger.logs)
	}
}
