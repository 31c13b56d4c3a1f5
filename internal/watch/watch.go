// Package watch observes the profile files for changes. It watches the
// parent directories rather than the files themselves, because editors and
// the AWS CLI replace these files by atomic rename, which would silently
// detach a direct file watch.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of events a single save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher delivers a signal on Events after writes to any watched file
// settle. Bursts within the debounce window collapse into one signal.
type Watcher struct {
	files    map[string]bool
	delay    time.Duration
	logger   zerolog.Logger
	notifier *fsnotify.Watcher
	events   chan struct{}
}

// New creates a watcher over the given file paths. The paths need not
// exist yet; their parent directories must.
func New(paths []string, delay time.Duration, logger zerolog.Logger) (*Watcher, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]bool, len(paths)),
		delay:    delay,
		logger:   logger,
		notifier: notifier,
		events:   make(chan struct{}, 1),
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			notifier.Close()
			return nil, fmt.Errorf("resolving %s: %w", path, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := notifier.Add(dir); err != nil {
			notifier.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	return w, nil
}

// Events returns the settled-change channel. The channel has capacity one;
// a pending undelivered signal absorbs further changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run processes filesystem events until ctx is done. It closes the
// notifier on return.
func (w *Watcher) Run(ctx context.Context) {
	defer w.notifier.Close()

	debounced := debounce.New(w.delay)
	signal := func() {
		select {
		case w.events <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("profile file changed")
			debounced(signal)
		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !w.files[event.Name] {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}
