// Package ledger keeps a revisioned history of scans in bbolt, with an
// in-memory btree index of the latest outcome per artifact.
package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

var (
	bucketRuns     = []byte("runs")
	bucketOutcomes = []byte("outcomes")
	bucketMeta     = []byte("meta")

	keyRevision = []byte("current_revision")
)

// Run is the persisted summary of one scan.
type Run struct {
	Revision  int64     `json:"revision"`
	RunID     string    `json:"run_id"`
	AccountID string    `json:"account_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	Records   int       `json:"records"`
}

// Outcome is the persisted result of one task.
type Outcome struct {
	Revision   int64  `json:"revision"`
	RunID      string `json:"run_id"`
	Artifact   string `json:"artifact"`
	Service    string `json:"service"`
	Region     string `json:"region"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	Records    int    `json:"records"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ArtifactState tracks the latest known state of an artifact key.
type ArtifactState struct {
	Artifact     string
	Service      string
	Region       string
	Operation    string
	Status       string
	Kind         string
	Error        string
	FirstSeenRev int64
	LastSeenRev  int64
	Failures     int
}

// Ledger is the scan history store.
type Ledger struct {
	mu sync.RWMutex

	index      *btree.BTreeG[*ArtifactState]
	db         *bbolt.DB
	currentRev int64
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketOutcomes, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init ledger buckets: %w", err)
	}

	l := &Ledger{
		index: btree.NewG[*ArtifactState](32, func(a, b *ArtifactState) bool {
			return a.Artifact < b.Artifact
		}),
		db: db,
	}

	if err := l.load(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return l, nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// CurrentRevision returns the revision of the latest recorded run.
func (l *Ledger) CurrentRevision() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentRev
}

// Record stores a run and its outcomes atomically under a new revision.
func (l *Ledger) Record(run Run, outcomes []Outcome) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rev := l.currentRev + 1
	run.Revision = rev
	for i := range outcomes {
		outcomes[i].Revision = rev
		outcomes[i].RunID = run.RunID
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRuns).Put(revKey(rev), value); err != nil {
			return err
		}

		bucket := tx.Bucket(bucketOutcomes)
		for _, o := range outcomes {
			value, err := json.Marshal(o)
			if err != nil {
				return err
			}
			if err := bucket.Put(outcomeKey(rev, o.Artifact), value); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketMeta).Put(keyRevision, revKey(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}

	l.currentRev = rev
	for _, o := range outcomes {
		l.updateIndex(o)
	}

	return rev, nil
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Ledger) Runs(limit int) ([]Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var runs []Run
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			runs = append(runs, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Outcomes returns the outcomes recorded at a revision.
func (l *Ledger) Outcomes(rev int64) ([]Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var outcomes []Outcome
	prefix := revKey(rev)
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOutcomes).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var o Outcome
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("decode outcome: %w", err)
			}
			outcomes = append(outcomes, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// State returns the latest state of an artifact.
func (l *Ledger) State(artifact string) (*ArtifactState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, found := l.index.Get(&ArtifactState{Artifact: artifact})
	if !found {
		return nil, false
	}
	cp := *state
	return &cp, true
}

// LatestFailures returns artifacts whose most recent attempt failed, in
// artifact order.
func (l *Ledger) LatestFailures() []ArtifactState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var failed []ArtifactState
	l.index.Ascend(func(state *ArtifactState) bool {
		if state.Status == "failed" {
			failed = append(failed, *state)
		}
		return true
	})
	return failed
}

// Compact removes runs and outcomes older than the last keepRevisions.
func (l *Ledger) Compact(keepRevisions int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.currentRev - keepRevisions
	if cutoff <= 0 {
		return nil
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketOutcomes} {
			bucket := tx.Bucket(name)
			c := bucket.Cursor()

			var toDelete [][]byte
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if keyRevisionOf(k) > cutoff {
					break
				}
				toDelete = append(toDelete, append([]byte(nil), k...))
			}

			for _, key := range toDelete {
				if err := bucket.Delete(key); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact ledger: %w", err)
	}

	// first-seen revisions and failure counts only cover the kept window
	l.index.Clear(false)
	return l.db.View(l.replay)
}

// updateIndex folds an outcome into the artifact index. Skipped and cancelled
// outcomes say nothing new about an artifact that already has a state.
func (l *Ledger) updateIndex(o Outcome) {
	existing, found := l.index.Get(&ArtifactState{Artifact: o.Artifact})
	if !found {
		existing = &ArtifactState{
			Artifact:     o.Artifact,
			Service:      o.Service,
			Region:       o.Region,
			Operation:    o.Operation,
			FirstSeenRev: o.Revision,
		}
	}

	existing.LastSeenRev = o.Revision
	switch o.Status {
	case "skipped", "cancelled":
		if !found {
			existing.Status = o.Status
		}
	case "failed":
		existing.Status = o.Status
		existing.Kind = o.Kind
		existing.Error = o.Error
		existing.Failures++
	default:
		existing.Status = o.Status
		existing.Kind = ""
		existing.Error = ""
	}

	l.index.ReplaceOrInsert(existing)
}

func (l *Ledger) load() error {
	return l.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); len(data) == 8 {
			l.currentRev = int64(binary.BigEndian.Uint64(data))
		}

		return l.replay(tx)
	})
}

// replay folds every stored outcome into the index. Outcome keys sort by
// revision, so the result is the latest state per artifact.
func (l *Ledger) replay(tx *bbolt.Tx) error {
	return tx.Bucket(bucketOutcomes).ForEach(func(_, v []byte) error {
		var o Outcome
		if err := json.Unmarshal(v, &o); err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		l.updateIndex(o)
		return nil
	})
}

func revKey(rev int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(rev))
	return b
}

func outcomeKey(rev int64, artifact string) []byte {
	return append(revKey(rev), []byte(artifact)...)
}

func keyRevisionOf(key []byte) int64 {
	if len(key) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[:8]))
}
