package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
)

func TestSyncService_TestConnection_UpdatesStatus(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "401 unauthorized"})
	result, err := f.syncSvc.TestConnection(context.Background(), intg.ID().String())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "401 unauthorized", result.Message)

	stored, err := f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.StatusError, stored.Status())
	assert.Equal(t, "401 unauthorized", stored.ErrorMessage())

	// Recovery flips it back to connected and clears the error.
	f.adapter.setProbe(&transport.ProbeResult{Success: true})
	result, err = f.syncSvc.TestConnection(context.Background(), intg.ID().String())
	require.NoError(t, err)
	assert.True(t, result.Success)

	stored, err = f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.StatusConnected, stored.Status())
	assert.Empty(t, stored.ErrorMessage())
}

func TestSyncService_SyncIntegration_Success(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	result, err := f.syncSvc.SyncIntegration(context.Background(), intg.ID().String(), "sync_invoices")
	require.NoError(t, err)

	assert.Equal(t, integration.ResultSuccess, result.Status)
	assert.Equal(t, "sync_invoices", result.Operation)
	assert.Equal(t, 10, result.RecordsProcessed)
	assert.Equal(t, 6, result.RecordsCreated)
	assert.Equal(t, 4, result.RecordsUpdated)

	stored, err := f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.SyncSuccess, stored.SyncState())
	require.NotNil(t, stored.LastSyncAt())

	history, err := f.syncSvc.GetSyncResults(context.Background(), intg.ID().String(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, result.ID, history[0].ID)
}

func TestSyncService_SyncIntegration_PartialOnRecordFailures(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.mu.Lock()
	f.adapter.sync = &transport.SyncOutcome{
		RecordsProcessed: 10,
		RecordsCreated:   7,
		RecordsFailed:    3,
		Errors: []integration.RecordError{
			{RecordID: "INV-4", Message: "missing customer"},
			{RecordID: "INV-7", Message: "duplicate"},
			{RecordID: "INV-9", Message: "bad amount"},
		},
	}
	f.adapter.mu.Unlock()

	result, err := f.syncSvc.SyncIntegration(context.Background(), intg.ID().String(), "sync_invoices")
	require.NoError(t, err)

	assert.Equal(t, integration.ResultPartial, result.Status)
	assert.Len(t, result.Errors, 3)

	// Per-record failures do not fail the run.
	stored, err := f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.SyncSuccess, stored.SyncState())
}

func TestSyncService_SyncIntegration_AdapterFailureRecorded(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.mu.Lock()
	f.adapter.syncErr = errors.New("provider returned 503")
	f.adapter.mu.Unlock()

	result, err := f.syncSvc.SyncIntegration(context.Background(), intg.ID().String(), "sync_invoices")
	require.NoError(t, err)

	assert.Equal(t, integration.ResultError, result.Status)
	assert.Equal(t, 0, result.RecordsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "503")

	stored, err := f.integrations.GetByID(context.Background(), intg.ID())
	require.NoError(t, err)
	assert.Equal(t, integration.SyncError, stored.SyncState())

	// The failed run still lands in history.
	history, err := f.syncSvc.GetSyncResults(context.Background(), intg.ID().String(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, integration.ResultError, history[0].Status)
}

func TestSyncService_ExecuteOperation_RequiresConnected(t *testing.T) {
	f := newServiceFixture(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "nope"})
	intg, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "stripe",
		Config: map[string]string{
			"publishable_key": "pk_test_abc",
			"secret_key":      "sk_test_abc",
		},
	})
	require.NoError(t, err)
	require.Equal(t, integration.StatusError, intg.Status())

	_, err = f.syncSvc.ExecuteOperation(context.Background(), intg.ID().String(), "create_invoice", nil)
	assert.ErrorIs(t, err, integration.ErrNotConnected)
}

func TestSyncService_ExecuteOperation_ForwardsResult(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.mu.Lock()
	f.adapter.execRes = map[string]any{"invoice_id": "INV-100", "status": "created"}
	f.adapter.mu.Unlock()

	result, err := f.syncSvc.ExecuteOperation(context.Background(), intg.ID().String(), "create_invoice",
		map[string]any{"amount": 1250.00})
	require.NoError(t, err)
	assert.Equal(t, "INV-100", result["invoice_id"])
}

func TestSyncService_SyncHistoryTrimmed(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	for range integration.MaxSyncHistory + 5 {
		_, err := f.syncSvc.SyncIntegration(context.Background(), intg.ID().String(), "sync_invoices")
		require.NoError(t, err)
	}

	history, err := f.syncSvc.GetSyncResults(context.Background(), intg.ID().String(), 0)
	require.NoError(t, err)
	assert.Len(t, history, integration.MaxSyncHistory)
}
