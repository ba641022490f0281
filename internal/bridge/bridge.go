// Package bridge manages the per-window command channel into the monitored
// application's UI layer.
//
// Each hooked window listens on a loopback port inside the fixed bridge
// range. Commands are single JSON frames over TCP with a response frame in
// return. The bridge owns port assignment and reuse; after an application
// restart it rediscovers live hooks by probing the port range.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Typed failures surfaced to callers. The supervision core treats
// ErrNoHookForWindow as a normal condition, not an error path.
var (
	ErrNoPortAvailable  = errors.New("bridge: no port available in range")
	ErrNoHookForWindow  = errors.New("bridge: no hook installed for window")
	ErrHookNotConnected = errors.New("bridge: hook not connected")
)

// DefaultPortRange is the loopback range scanned for hooks.
const (
	DefaultPortRangeStart = 8800
	DefaultPortRangeEnd   = 8899
)

// Request is one command frame sent to a hooked window.
type Request struct {
	ID      int64  `json:"id"`
	Command string `json:"command"`
}

// Response is the reply frame from the hook.
type Response struct {
	ID       int64  `json:"id"`
	OK       bool   `json:"ok"`
	WindowID string `json:"window_id,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Injector performs the underlying hook injection into a window. It is an
// external collaborator (platform-specific); the bridge only guarantees it
// is invoked at most once per installed window.
type Injector interface {
	Inject(ctx context.Context, windowID string, port int) error
}

// hook is the bridge's record of one window channel.
type hook struct {
	windowID  string
	port      int
	installed time.Time
	lastSeen  time.Time
	connected bool
}

// Manager tracks hooks for all windows of the monitored application.
type Manager struct {
	mu    sync.Mutex
	hooks map[string]*hook // window id -> hook

	injector  Injector
	portStart int
	portEnd   int
	timeout   time.Duration
	nextID    int64

	log *slog.Logger

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithPortRange sets the loopback port range used for hooks.
func WithPortRange(start, end int) Option {
	return func(m *Manager) {
		m.portStart, m.portEnd = start, end
	}
}

// WithCommandTimeout bounds one send/receive round trip.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a bridge manager using the given injector.
func NewManager(injector Injector, opts ...Option) *Manager {
	m := &Manager{
		hooks:     make(map[string]*hook),
		injector:  injector,
		portStart: DefaultPortRangeStart,
		portEnd:   DefaultPortRangeEnd,
		timeout:   3 * time.Second,
		log:       slog.Default(),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InstallHook installs the command hook for a window. Idempotent: a second
// call for an already-hooked window is a no-op. Returns ErrNoPortAvailable
// when the bridge range is exhausted.
func (m *Manager) InstallHook(ctx context.Context, windowID string) error {
	m.mu.Lock()
	if h, ok := m.hooks[windowID]; ok {
		m.mu.Unlock()
		m.log.Debug("hook already installed", "window", windowID, "port", h.port)
		return nil
	}

	port, err := m.allocatePortLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := m.injector.Inject(ctx, windowID, port); err != nil {
		return fmt.Errorf("inject hook for %s: %w", windowID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: a concurrent install may have won.
	if _, ok := m.hooks[windowID]; ok {
		return nil
	}
	m.hooks[windowID] = &hook{
		windowID:  windowID,
		port:      port,
		installed: time.Now(),
		connected: true,
	}
	m.log.Info("hook installed", "window", windowID, "port", port)
	return nil
}

// allocatePortLocked finds a free loopback port within the bridge range.
func (m *Manager) allocatePortLocked() (int, error) {
	used := make(map[int]bool, len(m.hooks))
	for _, h := range m.hooks {
		used[h.port] = true
	}
	for port := m.portStart; port <= m.portEnd; port++ {
		if used[port] {
			continue
		}
		if portAvailable(port) {
			return port, nil
		}
	}
	return 0, ErrNoPortAvailable
}

func portAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// IsWindowHooked reports whether a hook is installed for the window.
func (m *Manager) IsWindowHooked(windowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hooks[windowID]
	return ok
}

// IsConnected reports whether the window's hook answered its last exchange.
func (m *Manager) IsConnected(windowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[windowID]
	return ok && h.connected
}

// SendCommand sends one command to a hooked window and waits for the reply.
func (m *Manager) SendCommand(ctx context.Context, windowID, command string) (*Response, error) {
	m.mu.Lock()
	h, ok := m.hooks[windowID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoHookForWindow
	}
	if !h.connected {
		m.mu.Unlock()
		return nil, ErrHookNotConnected
	}
	port := h.port
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	resp, err := m.exchange(ctx, port, Request{ID: id, Command: command})

	m.mu.Lock()
	if h, ok := m.hooks[windowID]; ok {
		if err != nil {
			h.connected = false
		} else {
			h.connected = true
			h.lastSeen = time.Now()
		}
	}
	m.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("send %q to %s: %w", command, windowID, err)
	}
	return resp, nil
}

// exchange performs one framed request/response round trip.
func (m *Manager) exchange(ctx context.Context, port int, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return &resp, fmt.Errorf("hook error: %s", resp.Error)
	}
	return &resp, nil
}

// UpdateWindows reconciles tracked hooks against the currently present
// windows, releasing resources for windows that disappeared.
func (m *Manager) UpdateWindows(current []string) {
	present := make(map[string]bool, len(current))
	for _, id := range current {
		present[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.hooks {
		if !present[id] {
			m.log.Info("releasing hook for closed window", "window", id, "port", m.hooks[id].port)
			delete(m.hooks, id)
		}
	}
}

// Windows returns the ids of all hooked windows.
func (m *Manager) Windows() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.hooks))
	for id := range m.hooks {
		ids = append(ids, id)
	}
	return ids
}
