// Package delay provides the delay action, which pauses an execution between steps.
package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

const ActionType = "delay"

var ErrDurationInvalid = errors.New("invalid delay duration")

type Action struct {
	// Seconds may be fractional.
	Seconds float64
}

func NewAction(config map[string]any) (*Action, error) {
	seconds, err := cast.ToFloat64E(config["duration"])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDurationInvalid, err)
	}

	if seconds < 0 {
		return nil, fmt.Errorf("%w: %v", ErrDurationInvalid, seconds)
	}

	return &Action{Seconds: seconds}, nil
}

// Execute waits for the configured duration. The wait ends early when ctx is done, in which case
// the context cause (cancellation or shutdown) is returned.
func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	input.Log.Log(models.LogLevelInfo, fmt.Sprintf("Waiting %gs", a.Seconds), nil)

	timer := time.NewTimer(time.Duration(a.Seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("delay interrupted: %w", context.Cause(ctx))
	case <-timer.C:
	}

	return map[string]any{
		"action":   ActionType,
		"duration": a.Seconds,
	}, nil
}
