package dealstatus_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fractal-assets/flowengine/pkg/actions/dealstatus"
	"github.com/fractal-assets/flowengine/pkg/log"
	"github.com/fractal-assets/flowengine/pkg/mocks"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(sink protocol.LogSink) protocol.ActionInput {
	return protocol.ActionInput{ExecutionID: "exec-1", StepID: "fund", Log: sink, Logger: log.Discard()}
}

func TestAction_Execute(t *testing.T) {
	ctx := context.Background()
	deals := &mocks.MockDealRepository{}
	deals.On("FindByID", ctx, "deal-1").Return(&models.Deal{ID: "deal-1", Status: "open"}, nil)
	deals.On("UpdateStatus", ctx, "deal-1", "funded").Return(nil)

	action, err := dealstatus.NewActionFactory(deals).Create(ctx, map[string]any{"deal_id": "deal-1", "status": "funded"})
	require.NoError(t, err)

	sink := &mocks.RecordingLog{}
	result, err := action.Execute(ctx, input(sink))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"action":     "update_deal_status",
		"deal_id":    "deal-1",
		"old_status": "open",
		"new_status": "funded",
	}, result)
	assert.Equal(t, "Deal deal-1 status changed from open to funded", sink.Records()[0].Message)
	deals.AssertExpectations(t)
}

func TestAction_Execute_DealNotFound(t *testing.T) {
	ctx := context.Background()
	deals := &mocks.MockDealRepository{}
	deals.On("FindByID", ctx, "deal-404").Return(nil, fmt.Errorf("%w: deal-404", persistence.ErrDealNotFound))

	action, err := dealstatus.NewAction(map[string]any{"deal_id": "deal-404", "status": "funded"}, deals)
	require.NoError(t, err)

	result, err := action.Execute(ctx, input(&mocks.RecordingLog{}))
	require.ErrorIs(t, err, dealstatus.ErrDealNotFound)
	assert.Nil(t, result)
	deals.AssertNotCalled(t, "UpdateStatus")
}

func TestAction_Execute_UpdateFails(t *testing.T) {
	ctx := context.Background()
	updateErr := errors.New("connection reset")
	deals := &mocks.MockDealRepository{}
	deals.On("FindByID", ctx, "deal-1").Return(&models.Deal{ID: "deal-1", Status: "open"}, nil)
	deals.On("UpdateStatus", ctx, "deal-1", "funded").Return(updateErr)

	action, err := dealstatus.NewAction(map[string]any{"deal_id": "deal-1", "status": "funded"}, deals)
	require.NoError(t, err)

	_, err = action.Execute(ctx, input(&mocks.RecordingLog{}))
	require.ErrorIs(t, err, updateErr)
}

func TestNewAction_MissingFields(t *testing.T) {
	tests := []map[string]any{
		{"status": "funded"},
		{"deal_id": "deal-1"},
		{"deal_id": "  ", "status": "funded"},
	}

	for _, config := range tests {
		_, err := dealstatus.NewAction(config, &mocks.MockDealRepository{})
		require.ErrorIs(t, err, dealstatus.ErrMissingField)
	}
}
