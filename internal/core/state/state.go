// Package state manages berth's persistent state using BoltDB.
// All writes are transactional; reads use read-only transactions to minimise contention.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/pkg/errs"
)

// Bucket names
var (
	bucketTargets     = []byte("targets")
	bucketArtifacts   = []byte("artifacts")
	bucketContainers  = []byte("containers")
	bucketDeployments = []byte("deployments")
)

// DB wraps a BoltDB instance with typed accessor methods.
type DB struct {
	bolt *bbolt.DB
}

// Open opens (or creates) the state database at the given path.
func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errs.Wrap(fmt.Errorf("open state db %q: %w", path, err), errs.ErrStateRead, "state.open")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTargets, bucketArtifacts, bucketContainers, bucketDeployments} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %q: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.ErrStateWrite, "state.init")
	}

	return &DB{bolt: db}, nil
}

// Close closes the underlying BoltDB file.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Targets
// ─────────────────────────────────────────────────────────────────────────────

// PutTarget upserts a TargetInfo record.
func (db *DB) PutTarget(info v1.TargetInfo) error {
	return db.putJSON(bucketTargets, info.Name, info)
}

// GetTarget retrieves a TargetInfo by name. Returns nil, nil if not found.
func (db *DB) GetTarget(name string) (*v1.TargetInfo, error) {
	var info v1.TargetInfo
	found, err := db.getJSON(bucketTargets, name, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// DeleteTarget removes a target record.
func (db *DB) DeleteTarget(name string) error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTargets).Delete([]byte(name))
	})
}

// ListTargets returns all registered targets ordered by name.
func (db *DB) ListTargets() ([]v1.TargetInfo, error) {
	var out []v1.TargetInfo
	err := forEachJSON(db, bucketTargets, func(info v1.TargetInfo) { out = append(out, info) })
	return out, err
}

// UpdateTargetStatus records the outcome of a connectivity check.
func (db *DB) UpdateTargetStatus(name string, status v1.TargetStatus) error {
	info, err := db.GetTarget(name)
	if err != nil {
		return err
	}
	if info == nil {
		return errs.Newf(errs.ErrTargetNotFound, "state.target_status", "target %q not found", name)
	}
	info.Status = status
	if status == v1.TargetOnline {
		info.LastSeen = time.Now().UTC()
	}
	return db.PutTarget(*info)
}

// ─────────────────────────────────────────────────────────────────────────────
// Build artifacts
// ─────────────────────────────────────────────────────────────────────────────

// PutArtifact stores the latest build artifact of a definition.
func (db *DB) PutArtifact(definitionID string, a v1.Artifact) error {
	return db.putJSON(bucketArtifacts, definitionID, a)
}

// GetArtifact returns the stored artifact of a definition, or nil.
func (db *DB) GetArtifact(definitionID string) (*v1.Artifact, error) {
	var a v1.Artifact
	found, err := db.getJSON(bucketArtifacts, definitionID, &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Containers
// ─────────────────────────────────────────────────────────────────────────────

// PutContainer upserts runtime state for a placed container.
func (db *DB) PutContainer(c v1.Container) error {
	c.UpdatedAt = time.Now().UTC()
	return db.putJSON(bucketContainers, c.ID, c)
}

// GetContainer returns runtime state for a container id, or nil.
func (db *DB) GetContainer(id string) (*v1.Container, error) {
	var c v1.Container
	found, err := db.getJSON(bucketContainers, id, &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

// ListContainers returns every container, optionally filtered by target.
func (db *DB) ListContainers(target string) ([]v1.Container, error) {
	var out []v1.Container
	err := forEachJSON(db, bucketContainers, func(c v1.Container) {
		if target == "" || c.Target == target {
			out = append(out, c)
		}
	})
	return out, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Deployment history
// ─────────────────────────────────────────────────────────────────────────────

// PutDeployment appends a deployment record to the history.
func (db *DB) PutDeployment(rec v1.DeploymentRecord) error {
	return db.putJSON(bucketDeployments, rec.ID, rec)
}

// ListDeployments returns records newest first, optionally filtered by
// definition id. limit <= 0 returns everything.
func (db *DB) ListDeployments(definition string, limit int) ([]v1.DeploymentRecord, error) {
	var recs []v1.DeploymentRecord
	err := forEachJSON(db, bucketDeployments, func(r v1.DeploymentRecord) {
		if definition == "" || r.Definition == definition {
			recs = append(recs, r)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.After(recs[j].StartedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Generic helpers
// ─────────────────────────────────────────────────────────────────────────────

func (db *DB) putJSON(bucket []byte, key string, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errs.Wrap(fmt.Errorf("marshal: %w", err), errs.ErrStateWrite, "state.put")
	}
	err = db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
	return errs.Wrap(err, errs.ErrStateWrite, "state.put")
}

func (db *DB) getJSON(bucket []byte, key string, out any) (bool, error) {
	var found bool
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	return found, errs.Wrap(err, errs.ErrStateRead, "state.get")
}

// forEachJSON decodes every value of bucket in key order.
func forEachJSON[T any](db *DB, bucket []byte, fn func(T)) error {
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshal %s/%s: %w", bucket, k, err)
			}
			fn(item)
			return nil
		})
	})
	return errs.Wrap(err, errs.ErrStateRead, "state.list")
}
