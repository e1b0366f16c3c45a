package profilestore

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Guard watches the experts tree for out-of-band writes. The promotion
// pipeline is the only sanctioned writer; anything else touching a
// profile file is a violation. Tampered scaffolds are truncated back to
// empty; tampered enabled profiles are reported and left for the
// integrity sweep. Whether a slot counts as enabled comes from the
// store's enablement ledger, so the guard survives process restarts.
type Guard struct {
	store   *Store
	watcher *fsnotify.Watcher

	// OnViolation is invoked for every detected out-of-band write
	// (metrics hook). May be nil.
	OnViolation func(user, expert string)

	done chan struct{}
}

// NewGuard creates a guard over the given store.
func NewGuard(store *Store) (*Guard, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Guard{
		store:   store,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// WatchUser registers a user's experts directory.
func (g *Guard) WatchUser(user string) error {
	dir, err := g.store.ExpertsDir(user)
	if err != nil {
		return err
	}

	if err := g.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch experts directory: %w", err)
	}

	log.Printf("👁️  [PROFILE-GUARD] Watching experts directory for user %s", user)
	return nil
}

// WatchAll registers every experts directory that already exists under
// the data root. Called once at startup so users provisioned before the
// last restart stay covered.
func (g *Guard) WatchAll() error {
	projectsDir := filepath.Join(g.store.Root(), "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read projects directory: %w", err)
	}

	watched := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(projectsDir, entry.Name(), "_user", "experts")
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := g.watcher.Add(dir); err != nil {
			log.Printf("⚠️ [PROFILE-GUARD] Failed to watch experts directory for %s: %v", entry.Name(), err)
			continue
		}
		watched++
	}

	if watched > 0 {
		log.Printf("👁️  [PROFILE-GUARD] Watching %d existing experts directories", watched)
	}
	return nil
}

// Start runs the guard loop until Stop is called.
func (g *Guard) Start() {
	go g.loop()
}

func (g *Guard) loop() {
	for {
		select {
		case <-g.done:
			return
		case event, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			g.handleEvent(event.Name)
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ [PROFILE-GUARD] Watcher error: %v", err)
		}
	}
}

func (g *Guard) handleEvent(path string) {
	user, expert, ok := parseProfilePath(path)
	if !ok {
		return
	}

	if g.store.IsOwnWrite(path) {
		return
	}

	log.Printf("🚨 [PROFILE-GUARD] Out-of-band write to %s profile of user %s (%s)", expert, user, path)
	if g.OnViolation != nil {
		g.OnViolation(user, expert)
	}

	sanctioned, err := g.store.WasEnabled(user, expert)
	if err != nil {
		log.Printf("⚠️ [PROFILE-GUARD] Failed to read enablement ledger for %s: %v", user, err)
		return
	}

	if sanctioned {
		// A sanctioned profile was modified outside the pipeline. The
		// integrity sweep flags it if the shape broke; the content
		// cannot be reconstructed here.
		return
	}

	// Scaffolds must stay byte-for-byte empty until enablement.
	if err := g.store.TruncateScaffold(user, expert); err != nil {
		log.Printf("⚠️ [PROFILE-GUARD] Failed to restore scaffold %s/%s: %v", user, expert, err)
		return
	}
	log.Printf("🧹 [PROFILE-GUARD] Restored scaffold %s profile for user %s", expert, user)
}

// parseProfilePath extracts user and expert from an experts-tree path:
// .../projects/<user>/_user/experts/<expert>_profile.json
func parseProfilePath(path string) (user, expert string, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, "_profile.json") {
		return "", "", false
	}
	expert = strings.TrimSuffix(base, "_profile.json")

	dir := filepath.Dir(path) // .../experts
	if filepath.Base(dir) != "experts" {
		return "", "", false
	}
	userDir := filepath.Dir(dir) // .../_user
	if filepath.Base(userDir) != "_user" {
		return "", "", false
	}
	user = filepath.Base(filepath.Dir(userDir))
	if user == "" || user == "." {
		return "", "", false
	}
	return user, expert, true
}

// Stop shuts the guard down.
func (g *Guard) Stop() {
	close(g.done)
	g.watcher.Close()
}
