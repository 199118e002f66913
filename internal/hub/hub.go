// Package hub fans sync push messages out to the live connections of an
// identity. Push is cooperative: a dropped message is recovered by the next
// sync status poll, so delivery failures only evict the connection.
package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection binds one websocket (or any Writer) to an identity and device.
type Connection struct {
	IdentityID string
	DeviceID   string
	Writer     Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.IdentityID] == nil {
		h.connections[conn.IdentityID] = make(map[*Connection]struct{})
	}
	h.connections[conn.IdentityID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.IdentityID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.IdentityID)
	}
}

// Notify pushes a payload to every connection the identity holds, evicting
// connections whose writes fail. It satisfies the application's sync
// notifier port.
func (h *Hub) Notify(identityID string, payload []byte) {
	h.mu.RLock()
	set := h.connections[identityID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(payload); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

// ConnectionCount reports the live connections for one identity.
func (h *Hub) ConnectionCount(identityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[identityID])
}
