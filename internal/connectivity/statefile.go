package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// StateFileSource turns writes to a small text file into events.
//
// A platform network hook (NetworkManager dispatcher, launchd, the mobile
// shell) writes one word to the file:
//
//	online      reachability restored
//	offline     reachability lost
//	foreground  app returned to the foreground
//
// The parent directory is watched rather than the file, so hooks that
// replace the file atomically are picked up too.
type StateFileSource struct {
	path   string
	logger *slog.Logger
}

// NewStateFileSource creates a source for the file at path.
func NewStateFileSource(path string, logger *slog.Logger) *StateFileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFileSource{
		path:   path,
		logger: logger.With("component", "statefile", "path", path),
	}
}

// ParseState maps file contents to an event.
func ParseState(content string) (Event, bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "online", "up", "1":
		return Event{Kind: Reachability, Online: true}, true
	case "offline", "down", "0":
		return Event{Kind: Reachability, Online: false}, true
	case "foreground":
		return Event{Kind: Foreground}, true
	default:
		return Event{}, false
	}
}

// Run watches the file and sends events to out until ctx is done. The
// current contents, if any, are sent first.
func (s *StateFileSource) Run(ctx context.Context, out chan<- Event) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := s.emit(ctx, out); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := s.emit(ctx, out); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

// emit reads the file and forwards its event. Missing or unrecognised
// contents are skipped.
func (s *StateFileSource) emit(ctx context.Context, out chan<- Event) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.logger.Warn("read state file", "error", err)
		return nil
	}
	ev, ok := ParseState(string(data))
	if !ok {
		s.logger.Debug("ignoring state file contents", "content", strings.TrimSpace(string(data)))
		return nil
	}
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
