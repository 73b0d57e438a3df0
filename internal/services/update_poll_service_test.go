package services

import (
	"context"
	"testing"

	"go-dashboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollOnceForgetsDroppedSessions(t *testing.T) {
	api := &fakeLedgerAPI{rows: ledgerRows(3)}
	engine := newTestEngine(api, 25)
	poller := NewUpdatePollService(api, engine, nil, quietLogger())

	_, err := engine.SetFilter(context.Background(), "token", "0xACC", "USD", models.PaymentFilter{})
	require.NoError(t, err)

	poller.pollOnce()
	poller.mu.Lock()
	_, tracked := poller.lastCount["0xacc"]
	poller.mu.Unlock()
	assert.True(t, tracked)

	engine.DropSession("0xACC")
	poller.pollOnce()

	poller.mu.Lock()
	remaining := len(poller.lastCount)
	poller.mu.Unlock()
	assert.Zero(t, remaining, "counts for dropped sessions are forgotten")
}
