package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Provider serves the current configuration snapshot. The monitor loop
// asks for the snapshot at tick time, so a reload triggered by a file
// edit takes effect on the next tick.
type Provider struct {
	mu   sync.RWMutex
	cfg  *Config
	path string

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewProvider loads the config at path and starts watching it for edits.
// Watch failures degrade to a static provider rather than erroring: the
// initial load is what matters.
func NewProvider(path string) (*Provider, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:  cfg,
		path: path,
		done: make(chan struct{}),
		log:  slog.Default(),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.log.Warn("config watch unavailable, live reload disabled", "err", err)
		return p, nil
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		p.log.Warn("config watch unavailable, live reload disabled", "err", err)
		return p, nil
	}

	p.watcher = watcher
	go p.watch()
	return p, nil
}

// NewStaticProvider wraps a fixed config, for tests and one-shot commands.
func NewStaticProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg, done: make(chan struct{}), log: slog.Default()}
}

// Current returns the latest configuration snapshot.
func (p *Provider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Close stops the watcher.
func (p *Provider) Close() {
	p.once.Do(func() {
		close(p.done)
		if p.watcher != nil {
			p.watcher.Close()
		}
	})
}

// watch debounces file events and reloads the config. Invalid edits are
// logged and skipped; the previous snapshot stays in effect.
func (p *Provider) watch() {
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("config watch error", "err", err)
		case <-reload:
			cfg, err := Load(p.path)
			if err != nil {
				p.log.Warn("config reload failed, keeping previous", "err", err)
				continue
			}
			p.mu.Lock()
			p.cfg = cfg
			p.mu.Unlock()
			p.log.Info("config reloaded", "path", p.path)
		}
	}
}
