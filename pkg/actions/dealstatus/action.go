// Package dealstatus moves a deal to a new status.
package dealstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

const ActionType = "update_deal_status"

var (
	ErrDealNotFound = persistence.ErrDealNotFound
	ErrMissingField = errors.New("missing required field")
)

type Action struct {
	DealID string
	Status string

	deals persistence.DealRepository
}

func NewAction(config map[string]any, deals persistence.DealRepository) (*Action, error) {
	dealID := strings.TrimSpace(cast.ToString(config["deal_id"]))
	if dealID == "" {
		return nil, fmt.Errorf("%w: deal_id", ErrMissingField)
	}

	status := strings.TrimSpace(cast.ToString(config["status"]))
	if status == "" {
		return nil, fmt.Errorf("%w: status", ErrMissingField)
	}

	return &Action{DealID: dealID, Status: status, deals: deals}, nil
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	deal, err := a.deals.FindByID(ctx, a.DealID)
	if err != nil {
		return nil, err
	}

	oldStatus := deal.Status

	if err := a.deals.UpdateStatus(ctx, a.DealID, a.Status); err != nil {
		return nil, fmt.Errorf("failed to update deal %s: %w", a.DealID, err)
	}

	input.Log.Log(models.LogLevelInfo,
		fmt.Sprintf("Deal %s status changed from %s to %s", a.DealID, oldStatus, a.Status), nil)

	return map[string]any{
		"action":     ActionType,
		"deal_id":    a.DealID,
		"old_status": oldStatus,
		"new_status": a.Status,
	}, nil
}
