package profilestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lens0/internal/models"
)

// Store errors.
var (
	ErrUnknownExpert    = errors.New("unknown expert")
	ErrNotEnabled       = errors.New("expert profile not enabled")
	ErrAlreadyEnabled   = errors.New("expert profile already enabled")
	ErrMalformedProfile = errors.New("malformed expert profile")
	ErrInvalidUser      = errors.New("invalid user identifier")
)

// Store owns the per-user expert profile files at
// projects/<user>/_user/experts/<expert>_profile.json.
//
// Writes are atomic (temp file + rename) and serialized per user: one
// writer at a time per user's expert store. The store tracks its own
// writes so the integrity guard can tell pipeline writes apart from
// out-of-band file modifications.
type Store struct {
	root string

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	ownMu     sync.Mutex
	ownWrites map[string]time.Time
}

// ownWriteWindow is how long a pipeline write is remembered for the guard.
var ownWriteWindow = 3 * time.Second

// ledgerFile records which experts were enabled through the store. The
// guard and the integrity sweep use it to tell a sanctioned profile from
// a document written straight to disk, which a restart would otherwise
// make indistinguishable.
const ledgerFile = ".enabled.json"

// New creates a profile store rooted at the given data directory.
func New(root string) *Store {
	return &Store{
		root:      root,
		userLocks: make(map[string]*sync.Mutex),
		ownWrites: make(map[string]time.Time),
	}
}

// Root returns the data root the store was created with.
func (s *Store) Root() string {
	return s.root
}

// sanitizeUser maps a display user name to its directory form and
// rejects anything that could escape the projects tree.
func sanitizeUser(user string) (string, error) {
	u := strings.TrimSpace(user)
	if u == "" {
		return "", ErrInvalidUser
	}
	u = strings.ReplaceAll(u, " ", "_")
	if strings.ContainsAny(u, `/\`) || strings.Contains(u, "..") {
		return "", ErrInvalidUser
	}
	return u, nil
}

// ExpertsDir returns the experts directory for a user.
func (s *Store) ExpertsDir(user string) (string, error) {
	u, err := sanitizeUser(user)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "projects", u, "_user", "experts"), nil
}

// ProfilePath returns the on-disk path of one expert profile file.
func (s *Store) ProfilePath(user, expert string) (string, error) {
	if !models.IsValidExpert(expert) {
		return "", fmt.Errorf("%w: %s", ErrUnknownExpert, expert)
	}
	dir, err := s.ExpertsDir(user)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, expert+"_profile.json"), nil
}

// userLock returns the per-user write lock, creating it on first use.
func (s *Store) userLock(user string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[user] = lock
	}
	return lock
}

// Provision creates the experts directory and a zero-byte scaffold file
// for every expert that does not exist yet. Existing files, enabled or
// scaffold, are left untouched.
func (s *Store) Provision(user string) error {
	lock := s.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	dir, err := s.ExpertsDir(user)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create experts directory: %w", err)
	}

	for _, expert := range models.AllExperts {
		path := filepath.Join(dir, expert+"_profile.json")
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat profile %s: %w", path, err)
		}

		s.markOwnWrite(path)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create scaffold %s: %w", path, err)
		}
		f.Close()
	}

	log.Printf("📁 [PROFILE-STORE] Provisioned expert scaffolds for user %s", user)
	return nil
}

// IsEnabled reports whether an expert profile has been enabled: the file
// exists and carries a parseable profile document. A zero-byte scaffold
// is not enabled.
func (s *Store) IsEnabled(user, expert string) (bool, error) {
	path, err := s.ProfilePath(user, expert)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat profile: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	if _, err := s.Load(user, expert); err != nil {
		return false, err
	}
	return true, nil
}

// Enable turns a scaffold into a live profile with the minimal valid
// shape and empty data. This is the only transition out of scaffold
// state.
func (s *Store) Enable(user, expert string) (*models.ExpertProfile, error) {
	lock := s.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.ProfilePath(user, expert)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat profile: %w", err)
	}
	if err == nil && info.Size() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnabled, expert)
	}

	// Ledger first: a profile with content but no ledger entry is what
	// the integrity sweep resets.
	if err := s.recordEnablementLocked(user, expert); err != nil {
		return nil, err
	}

	profile := models.NewExpertProfile(expert)
	if err := s.writeLocked(path, profile); err != nil {
		return nil, err
	}

	log.Printf("✅ [PROFILE-STORE] Enabled %s profile for user %s", expert, user)
	return profile, nil
}

// Load reads and validates an enabled profile. A missing or zero-byte
// file returns ErrNotEnabled; an unparseable or invalid document returns
// ErrMalformedProfile.
func (s *Store) Load(user, expert string) (*models.ExpertProfile, error) {
	path, err := s.ProfilePath(user, expert)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotEnabled, expert)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotEnabled, expert)
	}

	var profile models.ExpertProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProfile, err)
	}
	if err := profile.Validate(expert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProfile, err)
	}
	return &profile, nil
}

// Save persists a profile for an already-enabled expert. Only the
// promotion pipeline and the enablement path call this; hats have no
// route here. The write stamps updated_at and validates the required
// shape before touching disk.
func (s *Store) Save(user, expert string, profile *models.ExpertProfile) error {
	lock := s.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.ProfilePath(user, expert)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return fmt.Errorf("%w: %s", ErrNotEnabled, expert)
	}
	if err != nil {
		return fmt.Errorf("failed to stat profile: %w", err)
	}

	profile.Touch()
	if err := profile.Validate(expert); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProfile, err)
	}

	return s.writeLocked(path, profile)
}

// writeLocked writes a profile atomically. Caller holds the user lock.
func (s *Store) writeLocked(path string, profile *models.ExpertProfile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	s.markOwnWrite(path)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace profile: %w", err)
	}
	return nil
}

// TruncateScaffold resets a tampered non-enabled profile back to a
// zero-byte scaffold. Used by the integrity guard only.
func (s *Store) TruncateScaffold(user, expert string) error {
	lock := s.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.ProfilePath(user, expert)
	if err != nil {
		return err
	}

	s.markOwnWrite(path)
	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("failed to truncate scaffold: %w", err)
	}
	return s.clearEnablementLocked(user, expert)
}

type enablementLedger struct {
	Enabled []string `json:"enabled"`
}

func (s *Store) ledgerPath(user string) (string, error) {
	dir, err := s.ExpertsDir(user)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ledgerFile), nil
}

func (s *Store) readLedger(user string) (*enablementLedger, error) {
	path, err := s.ledgerPath(user)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &enablementLedger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read enablement ledger: %w", err)
	}

	var ledger enablementLedger
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ledger); err != nil {
			return nil, fmt.Errorf("failed to parse enablement ledger: %w", err)
		}
	}
	return &ledger, nil
}

// writeLedgerLocked persists the ledger atomically. Caller holds the
// user lock.
func (s *Store) writeLedgerLocked(user string, ledger *enablementLedger) error {
	path, err := s.ledgerPath(user)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode enablement ledger: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace enablement ledger: %w", err)
	}
	return nil
}

func (s *Store) recordEnablementLocked(user, expert string) error {
	ledger, err := s.readLedger(user)
	if err != nil {
		return err
	}
	for _, e := range ledger.Enabled {
		if e == expert {
			return nil
		}
	}
	ledger.Enabled = append(ledger.Enabled, expert)
	return s.writeLedgerLocked(user, ledger)
}

func (s *Store) clearEnablementLocked(user, expert string) error {
	ledger, err := s.readLedger(user)
	if err != nil {
		return err
	}

	kept := ledger.Enabled[:0]
	removed := false
	for _, e := range ledger.Enabled {
		if e == expert {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return nil
	}
	ledger.Enabled = kept
	return s.writeLedgerLocked(user, ledger)
}

// WasEnabled reports whether an expert was enabled through the store
// since its slot was last reset. A profile file with content in a slot
// the ledger does not list was written out of band.
func (s *Store) WasEnabled(user, expert string) (bool, error) {
	if !models.IsValidExpert(expert) {
		return false, fmt.Errorf("%w: %s", ErrUnknownExpert, expert)
	}
	ledger, err := s.readLedger(user)
	if err != nil {
		return false, err
	}
	for _, e := range ledger.Enabled {
		if e == expert {
			return true, nil
		}
	}
	return false, nil
}

// ProfileStatus summarizes one expert file for listings.
type ProfileStatus struct {
	Expert    string `json:"expert"`
	Enabled   bool   `json:"enabled"`
	UpdatedAt string `json:"updated_at,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// Status returns the state of every provisioned expert for a user.
func (s *Store) Status(user string) ([]ProfileStatus, error) {
	dir, err := s.ExpertsDir(user)
	if err != nil {
		return nil, err
	}

	statuses := make([]ProfileStatus, 0, len(models.AllExperts))
	for _, expert := range models.AllExperts {
		status := ProfileStatus{Expert: expert}
		path := filepath.Join(dir, expert+"_profile.json")

		info, err := os.Stat(path)
		if err == nil {
			status.SizeBytes = info.Size()
			if info.Size() > 0 {
				if profile, err := s.Load(user, expert); err == nil {
					status.Enabled = true
					status.UpdatedAt = profile.UpdatedAt
				}
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// markOwnWrite records that the store itself is about to modify path.
func (s *Store) markOwnWrite(path string) {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	s.ownWrites[path] = time.Now()
}

// IsOwnWrite reports whether the store modified path within the guard
// window, and prunes expired entries as it goes.
func (s *Store) IsOwnWrite(path string) bool {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()

	now := time.Now()
	for p, at := range s.ownWrites {
		if now.Sub(at) > ownWriteWindow {
			delete(s.ownWrites, p)
		}
	}

	_, ok := s.ownWrites[path]
	return ok
}
