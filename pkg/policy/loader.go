package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleDelay is how long the policy files must stay quiet before a reload.
const settleDelay = 500 * time.Millisecond

// Loader reads custom policies from .rego and .json files.
type Loader struct {
	logger zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	digest  string
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// Load reads the policies under paths. A path may be a single file or a
// directory, searched recursively. The result is sorted by name.
//
// A named file that cannot be parsed is an error; inside a directory such a
// file is logged and skipped so one bad file does not hide the others.
func (l *Loader) Load(_ context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}

		if !info.IsDir() {
			p, err := readPolicy(root)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !isPolicyFile(path) {
				return err
			}
			p, err := readPolicy(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Policies loaded")
	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

// readPolicy parses one policy file. A .rego file is named after the file;
// its leading comment block is the description, and a "severity: <level>"
// line in that block sets the severity. A .json file holds a Policy.
// Severity defaults to warning.
func readPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(path)
	p := &Policy{Enabled: true}
	switch filepath.Ext(path) {
	case ".rego":
		p.Name = strings.TrimSuffix(base, ".rego")
		p.Rego = string(data)
		p.Description, p.Severity = commentHeader(p.Rego)
	case ".json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("invalid policy %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(base, ".json")
		}
		if strings.TrimSpace(p.Rego) == "" {
			return nil, fmt.Errorf("policy %s in %s has no rego", p.Name, path)
		}
	default:
		return nil, fmt.Errorf("%s is not a policy file", path)
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Builtin = false
	p.Source = path
	return p, nil
}

func commentHeader(src string) (string, Severity) {
	var (
		lines    []string
		severity Severity
	)
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		text = strings.TrimSpace(text)
		if level, ok := strings.CutPrefix(text, "severity:"); ok {
			severity = Severity(strings.TrimSpace(level))
		} else if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " "), severity
}

// digestOf fingerprints a policy set so saving a file without changing it
// does not trigger a reload.
func digestOf(policies []Policy) string {
	h := sha256.New()
	for _, p := range policies {
		fmt.Fprintf(h, "%s\x00%s\x00%t\x00%s\x00", p.Name, p.Severity, p.Enabled, p.Rego)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Watch loads paths, then calls apply with the full policy set whenever a
// policy file changes its content. It returns once the watcher is running;
// changes are processed until ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || path == root {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	initial, err := l.Load(ctx, paths)
	if err != nil {
		_ = watcher.Close()
		return err
	}

	l.mu.Lock()
	l.watcher = watcher
	l.digest = digestOf(initial)
	l.mu.Unlock()

	go l.watch(ctx, watcher, paths, apply)

	l.logger.Info().Strs("paths", paths).Msg("Watching policies")
	return nil
}

func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// New subdirectories are watched too.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if !isPolicyFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			settle.Reset(settleDelay)

		case <-settle.C:
			if err := l.reload(ctx, paths, apply); err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.Load(ctx, paths)
	if err != nil {
		return err
	}

	digest := digestOf(policies)
	l.mu.Lock()
	unchanged := digest == l.digest
	l.mu.Unlock()
	if unchanged {
		l.logger.Debug().Msg("Policies unchanged")
		return nil
	}

	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.mu.Lock()
	l.digest = digest
	l.mu.Unlock()

	l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
