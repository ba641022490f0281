// Package notify delivers supervision events to the user.
// Supports desktop notifications, webhooks, and a log file.
//
// Delivery is fire-and-forget: failures are logged at warning level and
// never propagate into the monitoring tick.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"text/template"
	"time"
)

// EventType identifies the kind of supervision event being reported.
type EventType string

const (
	// EventInterventionLimit fires when an instance crosses the automatic
	// intervention budget and is paused.
	EventInterventionLimit EventType = "instance.intervention_limit"
	// EventUnrecoverable fires when consecutive recovery failures reach
	// the configured maximum.
	EventUnrecoverable EventType = "instance.unrecoverable"
	// EventRecovered fires when a previously failing instance returns to
	// normal operation.
	EventRecovered EventType = "instance.recovered"
	// EventInterventionSent fires when a recovery action is dispatched.
	EventInterventionSent EventType = "instance.intervention_sent"
)

// Event is one notification payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	// Identifier deduplicates notifications at the delivery layer.
	Identifier string `json:"identifier,omitempty"`
}

// Config holds notification configuration.
type Config struct {
	Enabled bool     `toml:"enabled"`
	Events  []string `toml:"events"` // which event types to deliver

	Desktop DesktopConfig `toml:"desktop"`
	Webhook WebhookConfig `toml:"webhook"`
	Log     LogConfig     `toml:"log"`
}

// DesktopConfig configures desktop notifications.
type DesktopConfig struct {
	Enabled bool   `toml:"enabled"`
	Title   string `toml:"title"` // title prefix
}

// WebhookConfig configures webhook notifications.
type WebhookConfig struct {
	Enabled  bool              `toml:"enabled"`
	URL      string            `toml:"url"`
	Template string            `toml:"template"` // Go template for payload
	Headers  map[string]string `toml:"headers"`
}

// LogConfig configures log-file notifications.
type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Events: []string{
			string(EventInterventionLimit),
			string(EventUnrecoverable),
		},
		Desktop: DesktopConfig{Enabled: true, Title: "Vigil"},
		Webhook: WebhookConfig{Enabled: false},
		Log:     LogConfig{Enabled: false, Path: "~/.config/vigil/notifications.log"},
	}
}

// Notifier sends events through the configured channels.
type Notifier struct {
	config     Config
	enabledSet map[EventType]bool
	mu         sync.Mutex
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Notifier for cfg.
func New(cfg Config) *Notifier {
	cfg.Webhook.URL = os.ExpandEnv(cfg.Webhook.URL)
	cfg.Log.Path = os.ExpandEnv(cfg.Log.Path)

	n := &Notifier{
		config:     cfg,
		enabledSet: make(map[EventType]bool),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        slog.Default(),
	}
	for _, e := range cfg.Events {
		n.enabledSet[EventType(e)] = true
	}
	return n
}

// Notify delivers an event through every enabled channel. Errors are
// logged, never returned to the tick path.
func (n *Notifier) Notify(event Event) {
	if !n.config.Enabled || !n.enabledSet[event.Type] {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if n.config.Desktop.Enabled {
		if err := n.sendDesktop(event); err != nil {
			n.log.Warn("desktop notification failed", "type", event.Type, "err", err)
		}
	}
	if n.config.Webhook.Enabled && n.config.Webhook.URL != "" {
		if err := n.sendWebhook(event); err != nil {
			n.log.Warn("webhook notification failed", "type", event.Type, "err", err)
		}
	}
	if n.config.Log.Enabled && n.config.Log.Path != "" {
		if err := n.sendLog(event); err != nil {
			n.log.Warn("log notification failed", "type", event.Type, "err", err)
		}
	}
}

// Enabled reports whether the given event type would be delivered.
func (n *Notifier) Enabled(t EventType) bool {
	return n.config.Enabled && n.enabledSet[t]
}

func (n *Notifier) sendDesktop(event Event) error {
	title := n.config.Desktop.Title
	if title == "" {
		title = "Vigil"
	}
	if event.Title != "" {
		title = fmt.Sprintf("%s: %s", title, event.Title)
	}

	message := event.Message
	if message == "" {
		message = string(event.Type)
	}

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return exec.Command("osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return exec.Command("notify-send", title, message).Run()
	default:
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}
}

// jsonEscape escapes a string for embedding inside a JSON template.
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b[1 : len(b)-1])
}

func (n *Notifier) sendWebhook(event Event) error {
	tmplStr := n.config.Webhook.Template
	if tmplStr == "" {
		tmplStr = `{"event":"{{.Type}}","pid":{{.PID}},"message":"{{jsonEscape .Message}}","timestamp":"{{.Timestamp}}"}`
	}

	tmpl, err := template.New("webhook").Funcs(template.FuncMap{"jsonEscape": jsonEscape}).Parse(tmplStr)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, event); err != nil {
		return fmt.Errorf("template execution failed: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.config.Webhook.URL, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.config.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) sendLog(event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := expandHome(n.config.Log.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s\n", line)
	return err
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
