// Package notification queues an in-app or push notification for a user.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/events"
	"github.com/fractal-assets/flowengine/pkg/models"
	"github.com/fractal-assets/flowengine/pkg/protocol"
	"github.com/spf13/cast"
)

const (
	ActionType = "send_notification"

	DefaultChannel = "in_app"
)

var ErrMissingField = errors.New("missing required field")

type Action struct {
	UserID  string
	Title   string
	Message string
	Channel string
	Data    map[string]any

	publisher eventbus.EventPublisher
}

func NewAction(config map[string]any, publisher eventbus.EventPublisher) (*Action, error) {
	userID := strings.TrimSpace(cast.ToString(config["user_id"]))
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingField)
	}

	message := cast.ToString(config["message"])
	if message == "" {
		return nil, fmt.Errorf("%w: message", ErrMissingField)
	}

	channel := cast.ToString(config["channel"])
	if channel == "" {
		channel = DefaultChannel
	}

	var data map[string]any

	if raw, ok := config["data"]; ok && raw != nil {
		parsed, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid notification data: %w", err)
		}

		data = parsed
	}

	return &Action{
		UserID:    userID,
		Title:     cast.ToString(config["title"]),
		Message:   message,
		Channel:   channel,
		Data:      data,
		publisher: publisher,
	}, nil
}

func (a *Action) Execute(ctx context.Context, input protocol.ActionInput) (map[string]any, error) {
	request := events.NotificationRequested{
		BaseEvent:      events.NewBaseEvent(events.NotificationRequestedEvent, input.WorkflowID, input.ExecutionID),
		IdempotencyKey: input.IdempotencyKey(),
		UserID:         a.UserID,
		Title:          a.Title,
		Message:        a.Message,
		Channel:        a.Channel,
		Data:           a.Data,
	}

	if err := a.publisher.Publish(ctx, request.IdempotencyKey, request); err != nil {
		return nil, fmt.Errorf("failed to queue notification: %w", err)
	}

	input.Log.Log(models.LogLevelInfo, fmt.Sprintf("Notification queued for user %s via %s", a.UserID, a.Channel), nil)

	return map[string]any{
		"action":     ActionType,
		"user_id":    a.UserID,
		"title":      a.Title,
		"channel":    a.Channel,
		"request_id": request.ID,
		"status":     "queued",
	}, nil
}
