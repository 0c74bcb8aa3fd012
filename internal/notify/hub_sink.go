package notify

import (
	"context"

	"paycore/internal/domain"
	"paycore/internal/ws"
)

// HubSink pushes events to the donor's open WebSocket connections and to
// connected admins.
type HubSink struct {
	Hub *ws.Hub
}

func (HubSink) Name() string { return "websocket" }

func (s HubSink) Publish(ctx context.Context, ev Event) error {
	msg := map[string]any{"type": ev.Type, "payload": ev}
	s.Hub.BroadcastToDonor(ev.DonorID, msg)
	s.Hub.BroadcastToRole(domain.RoleAdmin, msg)
	return nil
}
