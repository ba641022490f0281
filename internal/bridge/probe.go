package bridge

import (
	"context"
	"time"
)

// probeCommand is the handshake sent when scanning the port range. A live
// hook answers with its window id.
const probeCommand = "__vigil_hello"

// ProbePorts scans the bridge port range for hooks that survived an
// application restart and re-registers any that answer the handshake.
// Ports already assigned to tracked windows are skipped. Returns the
// window ids rediscovered in this pass.
//
// Callers run this periodically; IsWindowHooked converges on reality
// within a bounded number of passes.
func (m *Manager) ProbePorts(ctx context.Context) []string {
	m.mu.Lock()
	assigned := make(map[int]bool, len(m.hooks))
	for _, h := range m.hooks {
		assigned[h.port] = true
	}
	start, end := m.portStart, m.portEnd
	m.mu.Unlock()

	var rediscovered []string
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			break
		}
		if assigned[port] {
			continue
		}

		m.mu.Lock()
		m.nextID++
		id := m.nextID
		m.mu.Unlock()

		resp, err := m.exchange(ctx, port, Request{ID: id, Command: probeCommand})
		if err != nil || resp.WindowID == "" {
			continue
		}

		m.mu.Lock()
		if _, ok := m.hooks[resp.WindowID]; !ok {
			m.hooks[resp.WindowID] = &hook{
				windowID:  resp.WindowID,
				port:      port,
				installed: time.Now(),
				lastSeen:  time.Now(),
				connected: true,
			}
			rediscovered = append(rediscovered, resp.WindowID)
			m.log.Info("rediscovered hook", "window", resp.WindowID, "port", port)
		}
		m.mu.Unlock()
	}
	return rediscovered
}
