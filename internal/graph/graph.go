// Package graph validates the merged profile map as a directed dependency
// graph: an edge profile→source exists when source_profile is set. It
// partitions profiles into a resolvable set and an invalid set with
// per-profile reasons, detecting missing properties, dangling references,
// and circular dependencies (self-reference included).
package graph

import (
	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/core"
	"github.com/credchain/credchain/internal/profile"
)

// Result is the validation partition. Every profile from the input appears
// in exactly one of the two maps.
type Result struct {
	Valid   map[string]*profile.Profile
	Invalid map[string]error
	// SSOSessions passes through the session sections needed at
	// resolution time by valid SSO profiles.
	SSOSessions map[string]*profile.SSOSession
}

// Validator checks a loaded FileSet. Validation is a pure graph property:
// the outcome never depends on map iteration order.
type Validator struct {
	logger zerolog.Logger
}

// NewValidator creates a validator.
func NewValidator(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate partitions the profiles of fs into valid and invalid. One bad
// profile never causes siblings to fail: errors are collected per profile,
// and only profiles depending on an invalid profile inherit its failure.
func (v *Validator) Validate(fs *profile.FileSet) *Result {
	reasons := make(map[string]error)

	// Per-profile dispatch-rule checks (missing/partial properties,
	// dangling sso_session references).
	for name, p := range fs.Profiles {
		if _, err := profile.Classify(p, fs.SSOSessions); err != nil {
			reasons[name] = err
		}
	}

	// Direct source_profile edges must point at known profiles.
	for name, p := range fs.Profiles {
		if _, bad := reasons[name]; bad {
			continue
		}
		source := p.Get(profile.KeySourceProfile)
		if source == "" {
			continue
		}
		if _, ok := fs.Profiles[source]; !ok {
			reasons[name] = &core.DanglingReferenceError{Profile: name, Reference: source}
		}
	}

	// Cycle detection: walk each profile's source_profile chain with an
	// on-path set. A global visited set alone would miss cycles that do
	// not include the starting node.
	for name := range fs.Profiles {
		if _, bad := reasons[name]; bad {
			continue
		}
		if path := v.findCycle(name, fs.Profiles); path != nil {
			reasons[name] = &core.CircularDependencyError{Path: path}
		}
	}

	// Transitive closure: anything depending on an invalid profile is
	// itself invalid, carrying a derived reason. Chains are at most as
	// long as the profile count, so iterate to a fixpoint.
	for changed := true; changed; {
		changed = false
		for name, p := range fs.Profiles {
			if _, bad := reasons[name]; bad {
				continue
			}
			source := p.Get(profile.KeySourceProfile)
			if source == "" || source == name {
				continue
			}
			if cause, bad := reasons[source]; bad {
				reasons[name] = &core.DependencyError{Profile: name, On: source, Cause: cause}
				changed = true
			}
		}
	}

	res := &Result{
		Valid:       make(map[string]*profile.Profile),
		Invalid:     reasons,
		SSOSessions: fs.SSOSessions,
	}
	for name, p := range fs.Profiles {
		if _, bad := reasons[name]; !bad {
			res.Valid[name] = p
		}
	}

	for name, err := range reasons {
		v.logger.Debug().Str("profile", name).Str("reason", err.Error()).Msg("profile failed validation")
	}
	v.logger.Info().Int("valid", len(res.Valid)).Int("invalid", len(res.Invalid)).Msg("profiles validated")

	return res
}

// findCycle follows source_profile edges from start and returns the walked
// path including the repeated name at the end, or nil when the chain
// terminates. Unknown targets terminate the walk here; the dangling check
// owns that failure.
func (v *Validator) findCycle(start string, profiles map[string]*profile.Profile) []string {
	path := []string{start}
	onPath := map[string]bool{start: true}

	current := start
	for {
		p, ok := profiles[current]
		if !ok {
			return nil
		}
		next := p.Get(profile.KeySourceProfile)
		if next == "" {
			return nil
		}
		path = append(path, next)
		if onPath[next] {
			return path
		}
		onPath[next] = true
		current = next
	}
}

// ChainDepth returns the number of source_profile hops below the named
// profile. Valid for profiles in the valid set (acyclic by construction).
func ChainDepth(name string, profiles map[string]*profile.Profile) int {
	depth := 0
	current := profiles[name]
	for current != nil && current.Has(profile.KeySourceProfile) {
		depth++
		current = profiles[current.Get(profile.KeySourceProfile)]
	}
	return depth
}
