package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-support/internal/diagnostics"
)

// SocketRegistry tracks the live dialog socket per device and tab. A new
// socket for the same tab closes the previous one.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Get returns the active connection for a device and session.
func (m *SocketRegistry) Get(deviceID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[deviceID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Count returns the number of live sockets.
func (m *SocketRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register adds conn for deviceID/sessionID, closing any connection it replaces.
func (m *SocketRegistry) Register(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[deviceID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "dialog replaced")
	}

	m.active[deviceID][sessionID] = conn
	slog.Debug("Dialog socket registered", diagnostics.Device(deviceID), "session_id", sessionID)
}

// Unregister removes conn if it is still the current one for its tab.
func (m *SocketRegistry) Unregister(deviceID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[deviceID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, deviceID)
			}
			slog.Debug("Dialog socket unregistered", diagnostics.Device(deviceID), "session_id", sessionID)
		}
	}
}
