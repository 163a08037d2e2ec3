package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Target is a requested or granted "resource:action[:scope]" value. An empty
// Scope on a requested target matches any recorded scope.
type Target struct {
	Resource string
	Action   string
	Scope    string
}

// ParseTarget parses "resource:action" or "resource:action:scope".
func ParseTarget(s string) (Target, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Target{}, fmt.Errorf("rbac: malformed permission %q", s)
	}
	t := Target{Resource: normalizeToken(parts[0]), Action: normalizeToken(parts[1])}
	if len(parts) == 3 {
		t.Scope = normalizeScope(parts[2])
		if t.Scope == "" {
			return Target{}, fmt.Errorf("rbac: empty scope in %q", s)
		}
	}
	if t.Resource == "" || t.Action == "" {
		return Target{}, fmt.Errorf("rbac: malformed permission %q", s)
	}
	return t, nil
}

// MustParseTarget is like ParseTarget but panics on malformed input. It is
// meant for permission literals at route registration time.
func MustParseTarget(s string) Target {
	t, err := ParseTarget(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTargets parses every entry, failing on the first malformed one.
func ParseTargets(values ...string) ([]Target, error) {
	targets := make([]Target, 0, len(values))
	for _, v := range values {
		t, err := ParseTarget(v)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// MustParseTargets is the panicking variant of ParseTargets.
func MustParseTargets(values ...string) []Target {
	targets, err := ParseTargets(values...)
	if err != nil {
		panic(err)
	}
	return targets
}

func (t Target) String() string {
	if t.Scope == "" || t.Scope == ScopeAll {
		return t.Resource + ":" + t.Action
	}
	return t.Resource + ":" + t.Action + ":" + t.Scope
}

func (t Target) isFullWildcard() bool {
	return t.Resource == Wildcard && t.Action == Wildcard && (t.Scope == ScopeAll || t.Scope == "")
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeScope(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, ScopeAll) {
		return ScopeAll
	}
	return strings.ToLower(s)
}

// PermissionSet is a resolved set of granted permission keys. Keys revoked by
// a per-user override are remembered so that partial wildcards ("tickets:*",
// "*:view") cannot bring them back.
type PermissionSet struct {
	full    bool
	keys    map[Target]struct{}
	revoked map[Target]struct{}
}

// NewPermissionSet builds a set from granted keys.
func NewPermissionSet(keys ...Target) PermissionSet {
	s := PermissionSet{keys: make(map[Target]struct{}, len(keys))}
	for _, k := range keys {
		s.add(k)
	}
	return s
}

func (s *PermissionSet) add(k Target) {
	if s.keys == nil {
		s.keys = make(map[Target]struct{})
	}
	if k.Scope == "" {
		k.Scope = ScopeAll
	}
	s.keys[k] = struct{}{}
	if k.isFullWildcard() {
		s.full = true
	}
}

func (s *PermissionSet) remove(k Target) {
	if k.Scope == "" {
		k.Scope = ScopeAll
	}
	delete(s.keys, k)
	if k.isFullWildcard() {
		s.full = false
	}
}

// revoke removes k and blocks wildcard grants from satisfying it.
func (s *PermissionSet) revoke(k Target) {
	if k.Scope == "" {
		k.Scope = ScopeAll
	}
	s.remove(k)
	if s.revoked == nil {
		s.revoked = make(map[Target]struct{})
	}
	s.revoked[k] = struct{}{}
}

// isRevoked reports whether an override revoked the requested target. A
// revoked ALL scope covers every narrower scope of the same pair.
func (s PermissionSet) isRevoked(t Target) bool {
	if len(s.revoked) == 0 {
		return false
	}
	if _, ok := s.revoked[Target{Resource: t.Resource, Action: t.Action, Scope: ScopeAll}]; ok {
		return true
	}
	if t.Scope == "" || t.Scope == ScopeAll {
		return false
	}
	_, ok := s.revoked[Target{Resource: t.Resource, Action: t.Action, Scope: t.Scope}]
	return ok
}

// IsFull reports whether the set carries the "*:*" bypass.
func (s PermissionSet) IsFull() bool {
	return s.full
}

// Len returns the number of granted keys.
func (s PermissionSet) Len() int {
	return len(s.keys)
}

// Allows reports whether the requested target is satisfied. A recorded ALL
// scope satisfies any requested scope; an empty requested scope is satisfied
// by any recorded scope for the same resource and action. Partial wildcards
// never satisfy a revoked target.
func (s PermissionSet) Allows(t Target) bool {
	if s.full {
		return true
	}
	if len(s.keys) == 0 {
		return false
	}
	revoked := s.isRevoked(t)
	for _, resource := range [2]string{t.Resource, Wildcard} {
		for _, action := range [2]string{t.Action, Wildcard} {
			if revoked && (resource == Wildcard || action == Wildcard) {
				continue
			}
			if t.Scope == "" {
				if s.hasPair(resource, action) {
					return true
				}
				continue
			}
			if _, ok := s.keys[Target{Resource: resource, Action: action, Scope: t.Scope}]; ok {
				return true
			}
			if _, ok := s.keys[Target{Resource: resource, Action: action, Scope: ScopeAll}]; ok {
				return true
			}
		}
	}
	return false
}

func (s PermissionSet) hasPair(resource, action string) bool {
	for k := range s.keys {
		if k.Resource == resource && k.Action == action {
			return true
		}
	}
	return false
}

// Targets returns the granted keys in a stable order.
func (s PermissionSet) Targets() []Target {
	out := make([]Target, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}

// Strings renders Targets as "resource:action[:scope]".
func (s PermissionSet) Strings() []string {
	targets := s.Targets()
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.String()
	}
	return out
}

// MarshalJSON renders the set as a sorted string array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}
