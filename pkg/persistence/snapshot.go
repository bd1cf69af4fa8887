package persistence

import (
	"fmt"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/param"
)

// persistable reports whether a parameter's value is stored in snapshots.
// Nested objects are owned by the application and rebuilt by it.
func persistable(p param.Parameter) bool {
	switch p.Type.(type) {
	case *param.ObjectType, *param.ObjectListType:
		return false
	}
	return true
}

// Capture returns the snapshot of obj's persistable values.
func Capture(key string, obj param.Parameterized) *domain.Snapshot {
	o := obj.Params()
	snap := &domain.Snapshot{
		Key:     key,
		Object:  o.Name(),
		Values:  make(map[string]any),
		SavedAt: time.Now().UTC(),
	}
	for _, p := range o.Parameters() {
		if !persistable(p) {
			continue
		}
		v, _ := o.Get(p.Name)
		snap.Values[p.Name] = v
	}
	return snap
}

// Restore applies the snapshot's values to obj as one update, readonly
// parameters included. Values are coerced by their parameter type first so
// that numbers decoded from JSON fit integer parameters. Keys the object does
// not declare are ignored. It returns the names that were applied.
//
// Restore fires watchers and must run on the loop goroutine.
func Restore(obj param.Parameterized, snap *domain.Snapshot) ([]string, error) {
	if snap == nil {
		return nil, nil
	}
	o := obj.Params()
	if snap.Object != "" && snap.Object != o.Name() {
		return nil, fmt.Errorf("restore %s from snapshot of %s: %w", o.Name(), snap.Object, domain.ErrValidation)
	}
	updates := make(map[string]any, len(snap.Values))
	var applied []string
	for _, p := range o.Parameters() {
		v, ok := snap.Values[p.Name]
		if !ok || !persistable(p) {
			continue
		}
		if c, ok := p.Type.(param.Coercer); ok && v != nil {
			cv, err := c.Coerce(v)
			if err != nil {
				return nil, &domain.ValidationError{Object: o.Name(), Key: p.Name, Reason: err.Error(), Value: v}
			}
			v = cv
		}
		updates[p.Name] = v
		applied = append(applied, p.Name)
	}
	if len(updates) == 0 {
		return nil, nil
	}
	err := o.EditReadonly(func() error { return o.Update(updates) })
	if err != nil && domain.IsValidationError(err) {
		return nil, err
	}
	return applied, err
}
