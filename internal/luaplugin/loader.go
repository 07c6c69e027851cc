// Package luaplugin loads Lua script plugins. A script registers hooks
// through the global hook table and talks to the bot through the global
// bot table:
//
//	hook.register_wiki_page("greeter", "Greets new posters", {default_enabled = true})
//	hook.submission("greet", function(call)
//	    bot.send_pm(call.submission.author, "Welcome", "Thanks for posting")
//	end, {wiki = "greeter"})
//
// Each file gets its own interpreter. Loading a file again first removes
// everything it registered before.
package luaplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// Ext is the extension of plugin files.
const Ext = ".lua"

// Loader owns the loaded scripts.
type Loader struct {
	registry *hook.Registry
	log      *zap.SugaredLogger

	mu      sync.Mutex
	plugins map[string]*plugin
}

// NewLoader returns a loader registering into registry.
func NewLoader(registry *hook.Registry, log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loader{
		registry: registry,
		log:      log,
		plugins:  make(map[string]*plugin),
	}
}

// LoadFile loads or reloads one script. On error nothing from the file
// stays registered.
func (l *Loader) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	l.Unload(abs)

	p := newPlugin(abs, l.registry, l.log)
	if err := p.load(); err != nil {
		l.registry.RemoveSource(abs)
		p.close()
		return fmt.Errorf("load %s: %w", path, err)
	}

	l.mu.Lock()
	l.plugins[abs] = p
	l.mu.Unlock()
	l.log.Infow("plugin loaded", "plugin", abs)
	return nil
}

// LoadDir loads every script in dir in name order. It keeps going after a
// failing file and returns the first error.
func (l *Loader) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read plugin folder: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == Ext {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var first error
	n := 0
	for _, name := range names {
		if err := l.LoadFile(filepath.Join(dir, name)); err != nil {
			l.log.Errorw("could not load plugin", "plugin", name, "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		n++
	}
	return n, first
}

// Unload removes a script and everything it registered. It reports whether
// the script was loaded.
func (l *Loader) Unload(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	l.mu.Lock()
	p, ok := l.plugins[abs]
	delete(l.plugins, abs)
	l.mu.Unlock()

	removed := l.registry.RemoveSource(abs)
	if ok {
		p.close()
		l.log.Infow("plugin unloaded", "plugin", abs, "hooks", removed)
	}
	return ok
}

// Loaded returns the paths of the loaded scripts, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.plugins))
	for path := range l.plugins {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Close unloads every script.
func (l *Loader) Close() {
	for _, path := range l.Loaded() {
		l.Unload(path)
	}
}
