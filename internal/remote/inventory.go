package remote

import (
	"time"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/state"
	"github.com/f9-o/berth/pkg/errs"
)

// Inventory keeps the named targets registered with `berth targets add`.
type Inventory struct {
	db *state.DB
}

// NewInventory constructs an Inventory over db.
func NewInventory(db *state.DB) *Inventory {
	return &Inventory{db: db}
}

// Add registers a new target. The name must not be taken.
func (i *Inventory) Add(info v1.TargetInfo) error {
	existing, err := i.db.GetTarget(info.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errs.Newf(errs.ErrValidation, "targets.add", "target %q already registered", info.Name).
			WithAdvice("remove it first with: berth targets rm " + info.Name)
	}
	info.Status = v1.TargetOffline
	info.LastSeen = time.Now().UTC()
	return i.db.PutTarget(info)
}

// Remove deletes a target.
func (i *Inventory) Remove(name string) error {
	if _, err := i.Get(name); err != nil {
		return err
	}
	return i.db.DeleteTarget(name)
}

// Get returns the record for name.
func (i *Inventory) Get(name string) (v1.TargetInfo, error) {
	info, err := i.db.GetTarget(name)
	if err != nil {
		return v1.TargetInfo{}, err
	}
	if info == nil {
		return v1.TargetInfo{}, errs.Newf(errs.ErrTargetNotFound, "targets.get", "target %q not registered", name)
	}
	return *info, nil
}

// List returns all targets ordered by name.
func (i *Inventory) List() ([]v1.TargetInfo, error) {
	return i.db.ListTargets()
}

// Trust records the host key of a target. Later connections are pinned to it.
func (i *Inventory) Trust(name, fingerprint, encodedHostKey string) error {
	info, err := i.Get(name)
	if err != nil {
		return err
	}
	info.KeyFingerprint = fingerprint
	info.HostKey = encodedHostKey
	info.HostKeyKnown = true
	return i.db.PutTarget(info)
}

// Mark records the result of a connectivity check.
func (i *Inventory) Mark(name string, online bool) error {
	status := v1.TargetOffline
	if online {
		status = v1.TargetOnline
	}
	return i.db.UpdateTargetStatus(name, status)
}

// FingerprintFor looks a trusted fingerprint up by target address.
// It is handed to NewPool and SSHTunnelDialer.
func (i *Inventory) FingerprintFor(host string) (string, bool) {
	list, err := i.db.ListTargets()
	if err != nil {
		return "", false
	}
	for _, info := range list {
		if !info.HostKeyKnown {
			continue
		}
		if info.Target.Address() == host || info.Target.IPAddress == host {
			return info.KeyFingerprint, true
		}
	}
	return "", false
}
