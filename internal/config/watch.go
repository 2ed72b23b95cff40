package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/lion7/dhcpd/internal/alloc"
	"github.com/lion7/dhcpd/internal/subnet"
)

// debounce coalesces the burst of Write events some editors emit for a
// single save (write-then-rename, write-then-chmod) into one reload.
const debounce = 200 * time.Millisecond

// Watcher re-reads subnets.yml after startup and atomically swaps the
// static allocator's registry and every subnet's default options on a
// successful parse, leaving the previous configuration live if the new
// file fails to parse or validate. Grounded in the teacher's own
// watch-and-swap file handler idiom.
type Watcher struct {
	path   string
	static *alloc.StaticAllocator
	logger *zap.Logger

	mu      sync.RWMutex
	current *Runtime
}

// NewWatcher loads subnets.yml once, populates subnets from it, registers
// its static allocations against static, and returns a Watcher ready to
// watch for further changes. subnets MUST be the same *subnet.Map instance
// static and every allocator were constructed with — Materialize mutates
// it in place rather than building a disconnected copy, so that
// GetMatching lookups made by static (and by the Dynamic Allocator and the
// Responder) see the subnets this Watcher loads. The map is never replaced
// wholesale by a reload (doing so would orphan in-flight transactions
// referencing its *Subnet pointers) — only its static reservations and
// per-subnet defaults change.
func NewWatcher(path string, subnets *subnet.Map, static *alloc.StaticAllocator, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := LoadSubnets(path)
	if err != nil {
		return nil, err
	}
	rt, err := Materialize(subnets, cfg)
	if err != nil {
		return nil, err
	}
	if err := static.ReplaceAll(rt.Allocations); err != nil {
		return nil, fmt.Errorf("%w: registering static allocations: %v", ErrConfig, err)
	}

	return &Watcher{path: path, static: static, logger: logger, current: rt}, nil
}

// Current returns the most recently and successfully loaded Runtime.
func (w *Watcher) Current() *Runtime {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch starts watching path for changes, reloading once per burst of
// write events (debounce after the last one) until stop is called. It returns the fsnotify watcher's Close method as
// stop so the caller can shut it down cleanly.
func (w *Watcher) Watch() (stop func() error, err error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", w.path, err)
	}

	go func() {
		var timer *time.Timer
		var fired <-chan time.Time
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fired = timer.C
			case <-fired:
				fired = nil
				w.logger.Info("subnets.yml changed, reloading", zap.String("path", w.path))
				if err := w.reload(); err != nil {
					w.logger.Error("failed to reload subnets.yml, keeping previous configuration", zap.Error(err))
				}
			}
		}
	}()

	return fw.Close, nil
}

func (w *Watcher) reload() error {
	cfg, err := LoadSubnets(w.path)
	if err != nil {
		return err
	}

	w.mu.RLock()
	subnets := w.current.Subnets
	w.mu.RUnlock()

	allocations, err := applyTo(cfg, subnets)
	if err != nil {
		return err
	}
	if err := w.static.ReplaceAll(allocations); err != nil {
		return fmt.Errorf("%w: registering static allocations: %v", ErrConfig, err)
	}

	w.mu.Lock()
	w.current = &Runtime{Subnets: subnets, Allocations: allocations}
	w.mu.Unlock()
	return nil
}
