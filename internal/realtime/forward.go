package realtime

import (
	types "github.com/yungbote/adforge-backend/internal/domain"
)

// ForwardRowStatus fans a row status event out to the matrix channel.
func (hub *SSEHub) ForwardRowStatus(ev types.RowStatusEvent) {
	hub.Broadcast(SSEMessage{
		Channel: MatrixChannel(ev.MatrixID),
		Event:   SSEEventRowStatus,
		Data:    ev,
	})
}
