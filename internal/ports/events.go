package ports

import "context"

// EventPublisher is the outbound platform-event publish port.
// The application uses this abstraction to keep broker/client concerns in adapters.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// SyncNotifier pushes a sync payload to an identity's connected tabs/devices.
// Delivery is cooperative: a missed push self-corrects on the next poll, so
// implementations may drop messages rather than block.
type SyncNotifier interface {
	Notify(identityID string, payload []byte)
}
