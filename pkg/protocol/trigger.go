package protocol

import "context"

// TriggerCallback receives one platform event. Implementations route it to matching workflows.
type TriggerCallback func(ctx context.Context, eventType string, payload map[string]any) error

// Trigger is an event source that runs until Stop, such as the cron scheduler or a bus consumer.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
}
