package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// ErrNoDriver is returned when no driver is registered under a name.
var ErrNoDriver = errors.New("no driver registered")

// Driver is an interpreter together with the identity bound into attestations.
type Driver struct {
	Name        string
	Version     *semver.Version
	Identity    crypto.AccountID
	Interpreter Interpreter
}

// Registry maps driver names to drivers. An optional version constraint is
// enforced when drivers are registered.
type Registry struct {
	mu         sync.RWMutex
	drivers    map[string]*Driver
	constraint *semver.Constraints
}

// NewRegistry creates a registry. An empty constraint accepts every version.
func NewRegistry(constraint string) (*Registry, error) {
	r := &Registry{drivers: make(map[string]*Driver)}
	if constraint != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("engine version constraint %q: %w", constraint, err)
		}
		r.constraint = c
	}
	return r, nil
}

// Register adds or replaces a driver.
func (r *Registry) Register(d *Driver) error {
	if d == nil || d.Name == "" || d.Interpreter == nil {
		return errors.New("engine: driver needs a name and an interpreter")
	}
	if d.Identity.IsZero() {
		return fmt.Errorf("engine: driver %s has no identity", d.Name)
	}
	if d.Version == nil {
		return fmt.Errorf("engine: driver %s has no version", d.Name)
	}
	if r.constraint != nil {
		if ok, errs := r.constraint.Validate(d.Version); !ok {
			return fmt.Errorf("engine: driver %s %s rejected: %v", d.Name, d.Version, errs)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name] = d
	return nil
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (*Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDriver, name)
	}
	return d, nil
}

// Names lists registered driver names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
