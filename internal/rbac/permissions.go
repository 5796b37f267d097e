package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// PermissionSet maps resources to their allowed actions. The zero value is an
// empty set. A PermissionSet is never mutated after construction, so it can be
// shared between goroutines freely.
type PermissionSet struct {
	grants map[Resource]map[Action]struct{}
}

// NormalizeResource trims and case-folds a resource key.
func NormalizeResource(raw string) Resource {
	return Resource(folder.String(strings.TrimSpace(raw)))
}

// ParsePermissionSet validates a raw resource to actions mapping. Every action
// must belong to the vocabulary; resources with no actions are dropped.
func ParsePermissionSet(raw map[string][]string) (PermissionSet, error) {
	grants := make(map[Resource]map[Action]struct{}, len(raw))
	for key, actions := range raw {
		resource := NormalizeResource(key)
		if resource == "" {
			return PermissionSet{}, ErrEmptyResource
		}
		for _, rawAction := range actions {
			action, err := ParseAction(strings.TrimSpace(rawAction))
			if err != nil {
				return PermissionSet{}, fmt.Errorf("resource %s: %w", resource, err)
			}
			set, ok := grants[resource]
			if !ok {
				set = make(map[Action]struct{}, len(actions))
				grants[resource] = set
			}
			set[action] = struct{}{}
		}
	}
	return PermissionSet{grants: grants}, nil
}

// MustParsePermissionSet is ParsePermissionSet for static tables; it panics on error.
func MustParsePermissionSet(raw map[string][]string) PermissionSet {
	set, err := ParsePermissionSet(raw)
	if err != nil {
		panic(err)
	}
	return set
}

// Can reports whether action is granted on resource. An empty action means view.
func (p PermissionSet) Can(resource Resource, action Action) bool {
	if action == "" {
		action = ActionView
	}
	actions, ok := p.grants[resource]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// CanAny reports whether at least one of actions is granted. False for no actions.
func (p PermissionSet) CanAny(resource Resource, actions ...Action) bool {
	for _, action := range actions {
		if p.Can(resource, action) {
			return true
		}
	}
	return false
}

// CanAll reports whether every action is granted. True for no actions.
func (p PermissionSet) CanAll(resource Resource, actions ...Action) bool {
	for _, action := range actions {
		if !p.Can(resource, action) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the set grants nothing.
func (p PermissionSet) IsEmpty() bool {
	return len(p.grants) == 0
}

// Resources returns the granted resources sorted by name.
func (p PermissionSet) Resources() []Resource {
	out := make([]Resource, 0, len(p.grants))
	for r := range p.grants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Actions returns the actions granted on resource in vocabulary order.
func (p PermissionSet) Actions(resource Resource) []Action {
	granted := p.grants[resource]
	out := make([]Action, 0, len(granted))
	for _, a := range Actions() {
		if _, ok := granted[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Map returns a copy of the set as plain strings.
func (p PermissionSet) Map() map[string][]string {
	out := make(map[string][]string, len(p.grants))
	for _, r := range p.Resources() {
		actions := p.Actions(r)
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		out[string(r)] = names
	}
	return out
}

// Union merges sets into a new one.
func Union(sets ...PermissionSet) PermissionSet {
	grants := make(map[Resource]map[Action]struct{})
	for _, set := range sets {
		for resource, actions := range set.grants {
			merged, ok := grants[resource]
			if !ok {
				merged = make(map[Action]struct{}, len(actions))
				grants[resource] = merged
			}
			for a := range actions {
				merged[a] = struct{}{}
			}
		}
	}
	return PermissionSet{grants: grants}
}

// MarshalJSON encodes the set as {"resource": ["action", ...]}.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// UnmarshalJSON decodes and validates the set.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set, err := ParsePermissionSet(raw)
	if err != nil {
		return err
	}
	*p = set
	return nil
}
