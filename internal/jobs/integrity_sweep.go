package jobs

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	"lens0/internal/models"
	"lens0/internal/profilestore"
	"lens0/internal/services"
)

// IntegritySweep walks every user's expert directory and repairs what
// the filesystem guard missed: scaffolds that grew content out of band
// are truncated back to zero bytes, and enabled profiles that no longer
// parse are flagged. Profiles are only ever written by the promotion
// pipeline, so any drift found here is a violation.
type IntegritySweep struct {
	store *profilestore.Store
	root  string
}

// NewIntegritySweep creates a new integrity sweep job
func NewIntegritySweep(store *profilestore.Store) *IntegritySweep {
	return &IntegritySweep{
		store: store,
		root:  store.Root(),
	}
}

// Run sweeps all users' expert profiles
func (j *IntegritySweep) Run(ctx context.Context) error {
	projectsDir := filepath.Join(j.root, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	swept, repaired := 0, 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}

		user := entry.Name()
		n, err := j.sweepUser(user)
		if err != nil {
			log.Printf("⚠️ [INTEGRITY] Sweep failed for user %s: %v", user, err)
			continue
		}
		swept++
		repaired += n
	}

	if repaired > 0 {
		log.Printf("🧹 [INTEGRITY] Swept %d users, repaired %d profiles", swept, repaired)
	}
	return nil
}

// sweepUser checks one user's five expert files, returns repairs made
func (j *IntegritySweep) sweepUser(user string) (int, error) {
	repaired := 0

	for _, expert := range models.AllExperts {
		enabled, err := j.store.IsEnabled(user, expert)
		if err != nil {
			if errors.Is(err, profilestore.ErrMalformedProfile) {
				// Non-empty but unparseable. Either a tampered scaffold or
				// a corrupted enabled profile; without a valid document we
				// cannot tell which, so reset to scaffold and flag it.
				log.Printf("🚨 [INTEGRITY] Malformed profile %s/%s, resetting to scaffold", user, expert)
				if err := j.resetProfile(user, expert); err != nil {
					return repaired, err
				}
				repaired++
				continue
			}
			return repaired, err
		}
		if !enabled {
			continue
		}

		// The file parses, but only the store's enablement ledger says
		// whether it got there through the pipeline. A valid document
		// planted straight on disk must not become an enabled profile.
		sanctioned, err := j.store.WasEnabled(user, expert)
		if err != nil {
			return repaired, err
		}
		if !sanctioned {
			log.Printf("🚨 [INTEGRITY] Profile %s/%s has content but was never enabled, resetting to scaffold", user, expert)
			if err := j.resetProfile(user, expert); err != nil {
				return repaired, err
			}
			repaired++
		}
	}
	return repaired, nil
}

func (j *IntegritySweep) resetProfile(user, expert string) error {
	if m := services.GetMetrics(); m != nil {
		m.RecordDirectWriteViolation(expert)
	}
	return j.store.TruncateScaffold(user, expert)
}
