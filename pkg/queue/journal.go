package queue

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ciorch/pkg/types"
)

var bucketJobs = []byte("jobs")

// Journal is a local bbolt-backed store of jobs: Record writes one, Drain
// reads them all back, Discard removes one. It is not a replacement for
// Postgres, and cmd/orchestrator does not open one, so nothing is
// journaled or replayed by the running process.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (creating if absent) the journal file under dataDir.
func OpenJournal(dataDir string) (*Journal, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "queue-journal.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open queue journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue journal buckets: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record mirrors a job to the journal, keyed by its ID.
func (j *Journal) Record(job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal journaled job: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

// Drain returns every journaled job, for replay into the Durable Store
// once it becomes reachable again.
func (j *Journal) Drain() ([]*types.Job, error) {
	var jobs []*types.Job
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("unmarshal journaled job %s: %w", k, err)
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

// Discard removes a job from the journal once it has been durably
// replayed into Postgres.
func (j *Journal) Discard(jobID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(jobID))
	})
}

// Close releases the journal file handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
