package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulcrm/integrations/internal/infra/transport"
	"github.com/haulcrm/integrations/pkg/domain/integration"
)

func TestHealthService_CheckHealth_Healthy(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: true, ResponseTime: 150 * time.Millisecond})

	snapshot, err := f.healthSvc.CheckHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)

	assert.Equal(t, integration.HealthHealthy, snapshot.Status)
	assert.Equal(t, 150*time.Millisecond, snapshot.ResponseTime)
	assert.Equal(t, 0.0, snapshot.ErrorRate)
	assert.Empty(t, snapshot.Issues)

	stored, err := f.healthSvc.GetIntegrationHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)
	assert.Equal(t, integration.HealthHealthy, stored.Status)
}

func TestHealthService_CheckHealth_DegradedOnSlowResponse(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	// At the threshold counts as degraded, not merely near it.
	f.adapter.setProbe(&transport.ProbeResult{Success: true, ResponseTime: 2 * time.Second})

	snapshot, err := f.healthSvc.CheckHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)

	assert.Equal(t, integration.HealthDegraded, snapshot.Status)
	require.Len(t, snapshot.Issues, 1)
	assert.Equal(t, integration.IssueWarning, snapshot.Issues[0].Kind)
	assert.Contains(t, snapshot.Issues[0].Message, "slow response")
}

func TestHealthService_CheckHealth_UnhealthyOnFailure(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "connection refused"})

	snapshot, err := f.healthSvc.CheckHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)

	assert.Equal(t, integration.HealthUnhealthy, snapshot.Status)
	assert.Equal(t, 1.0, snapshot.ErrorRate)
	assert.Equal(t, 0.0, snapshot.Uptime)
	require.Len(t, snapshot.Issues, 1)
	assert.Equal(t, integration.IssueError, snapshot.Issues[0].Kind)
	assert.Equal(t, "connection refused", snapshot.Issues[0].Message)
}

func TestHealthService_CheckHealth_OverwritesPrevious(t *testing.T) {
	f := newServiceFixture(t)
	intg := f.createIntegration(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "down"})
	_, err := f.healthSvc.CheckHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)

	f.adapter.setProbe(&transport.ProbeResult{Success: true, ResponseTime: 80 * time.Millisecond})
	_, err = f.healthSvc.CheckHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)

	stored, err := f.healthSvc.GetIntegrationHealth(context.Background(), intg.ID().String())
	require.NoError(t, err)
	assert.Equal(t, integration.HealthHealthy, stored.Status)
	assert.Empty(t, stored.Issues)

	all, err := f.healthSvc.ListIntegrationHealth(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHealthService_PerformHealthChecks_ConnectedOnly(t *testing.T) {
	f := newServiceFixture(t)

	connected := f.createIntegration(t)

	f.adapter.setProbe(&transport.ProbeResult{Success: false, Message: "bad key"})
	errored, err := f.integrationSvc.CreateIntegration(context.Background(), CreateIntegrationInput{
		TemplateID: "anthropic",
		Config:     map[string]string{"api_key": "sk-ant-bad"},
	})
	require.NoError(t, err)
	require.Equal(t, integration.StatusError, errored.Status())

	f.adapter.setProbe(&transport.ProbeResult{Success: true, ResponseTime: 100 * time.Millisecond})
	require.NoError(t, f.healthSvc.PerformHealthChecks(context.Background()))

	_, err = f.healthSvc.GetIntegrationHealth(context.Background(), connected.ID().String())
	assert.NoError(t, err)

	// Integrations that never connected are not probed.
	_, err = f.healthSvc.GetIntegrationHealth(context.Background(), errored.ID().String())
	assert.ErrorIs(t, err, integration.ErrHealthNotFound)
}
