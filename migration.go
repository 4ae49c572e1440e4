package queen

import (
	"sync"
	"time"

	"github.com/honeynil/queen/internal/checksum"
)

// PostApplyIdentity is the reserved identity of the post-apply migration:
// it is segregated from the normal migration set, never ordered into a
// Plan, and never recorded in the applied-set. Instead the executor runs
// its steps once after any non-empty successful forward plan.
const PostApplyIdentity = "post-apply"

// Metadata is free-form information about a migration's provenance. It
// plays no role in resolution or execution.
type Metadata struct {
	Author    string
	Message   string
	CreatedAt time.Time
}

// Migration represents a single database migration: an identity, an
// ordered list of Steps, and the identities it depends on.
//
// Identity must be unique within a run; collisions across source
// directories are a hard error (ErrVersionConflict). When migrations are
// loaded with ReadMigrations, identity is the script filename stem.
type Migration struct {
	// Identity uniquely identifies this migration.
	Identity string

	// Steps are executed in order for Forward, and in reverse order for
	// Backward.
	Steps []Step

	// Depends lists the identities this migration must follow in any
	// forward plan.
	Depends []string

	// Metadata is optional descriptive information.
	Metadata Metadata

	// ManualChecksum overrides the computed checksum. A migration whose
	// Steps are entirely callable can't be fingerprinted from source text;
	// without ManualChecksum its checksum is a fixed marker, and Status and
	// Validate never report it as modified.
	ManualChecksum string

	checksumOnce *sync.Once
	checksum     string
}

// M is a convenient alias for Migration, used in registration.
type M = Migration

// Validate ensures Identity is set and every step is well-formed.
func (m *Migration) Validate() error {
	if m.Identity == "" {
		return ErrInvalidMigration
	}
	if len(m.Steps) == 0 {
		return ErrInvalidMigration
	}
	for _, s := range m.Steps {
		if !s.valid() {
			return ErrInvalidMigration
		}
	}
	return nil
}

const noChecksumMarker = "no-checksum-callable"

// Checksum returns a deterministic fingerprint of the migration content,
// used to detect migrations whose definition changed after being applied
// (Status reports these as StatusModified). Uses ManualChecksum if set,
// otherwise hashes the concatenated step fingerprints, or returns a marker
// if the migration is entirely callable steps without a manual checksum.
func (m *Migration) Checksum() string {
	if m.checksumOnce == nil {
		m.checksumOnce = &sync.Once{}
	}

	m.checksumOnce.Do(func() {
		if m.ManualChecksum != "" {
			m.checksum = m.ManualChecksum
			return
		}

		hasSQL := false
		var content string
		for _, s := range m.Steps {
			if s.hasSQLContent() {
				hasSQL = true
			}
			content += s.fingerprint()
		}

		if !hasSQL {
			m.checksum = noChecksumMarker
			return
		}

		m.checksum = checksum.Calculate(content)
	})

	return m.checksum
}

// HasRollback reports whether every step (recursively, including group
// children) defines a rollback body.
func (m *Migration) HasRollback() bool {
	for _, s := range m.Steps {
		if !s.hasRollback() {
			return false
		}
	}
	return true
}

// IsDestructive reports whether any rollback SQL step contains a keyword
// (DROP TABLE, DROP DATABASE, DROP SCHEMA, TRUNCATE) indicating the
// rollback is destructive. Forward steps are assumed constructive and are
// not checked.
func (m *Migration) IsDestructive() bool {
	for _, s := range m.Steps {
		if s.isDestructiveDown() {
			return true
		}
	}
	return false
}

func (m *Migration) dependsOn(identity string) bool {
	for _, d := range m.Depends {
		if d == identity {
			return true
		}
	}
	return false
}
