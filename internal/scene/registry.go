package scene

import (
	"fmt"
	"strings"
	"sync"
)

// TypeTag identifies a node variant on the wire. Tags are assigned by
// registration order within a role, starting at 1.
type TypeTag uint8

// EndOfStream is the type tag that ends a traversal.
const EndOfStream TypeTag = 0

// Role is the side of the replication link a registry table serves.
type Role uint8

const (
	RoleProducer Role = iota + 1
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) valid() bool { return r == RoleProducer || r == RoleConsumer }

// ExtensionFactory builds the type-specific half of a new node. A nil
// factory registers a core-only node type.
type ExtensionFactory func() Extension

// BasicTypeName is the core-only node type every tree needs for its root.
const BasicTypeName = "basic"

type registryEntry struct {
	name    string
	factory ExtensionFactory
}

// Registry maps type tags to reconstruction closures, per role.
//
// Producer and consumer numberings are independent and must agree across
// processes: every process registers the same types in the same order.
// Manifest exposes that order so peers can compare it at handshake time.
type Registry struct {
	mu    sync.RWMutex
	roles map[Role][]registryEntry
}

func NewRegistry() *Registry {
	return &Registry{roles: make(map[Role][]registryEntry)}
}

// Register appends a type to role's table and returns its tag.
func (r *Registry) Register(role Role, name string, factory ExtensionFactory) (TypeTag, error) {
	if !role.valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrInvalidType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.roles[role]
	for _, e := range entries {
		if e.name == name {
			return 0, fmt.Errorf("%w: %s/%s", ErrTypeExists, role, name)
		}
	}
	if len(entries) >= 255 {
		return 0, ErrRegistryFull
	}
	r.roles[role] = append(entries, registryEntry{name: name, factory: factory})
	return TypeTag(len(entries) + 1), nil
}

// Lookup returns the tag registered under name for role.
func (r *Registry) Lookup(role Role, name string) (TypeTag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, e := range r.roles[role] {
		if e.name == name {
			return TypeTag(i + 1), true
		}
	}
	return 0, false
}

// Name returns the type name behind tag for role.
func (r *Registry) Name(role Role, tag TypeTag) (string, bool) {
	e, ok := r.entry(role, tag)
	return e.name, ok
}

// Manifest lists role's type names in tag order.
func (r *Registry) Manifest(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roles[role]))
	for _, e := range r.roles[role] {
		out = append(out, e.name)
	}
	return out
}

// Reconstruct builds a detached, unindexed node of type tag for tree,
// using tree's role table.
func (r *Registry) Reconstruct(tree *Tree, tag TypeTag) (*Node, error) {
	e, ok := r.entry(tree.role, tag)
	if !ok {
		return nil, fmt.Errorf("%w: %d (%s)", ErrUnknownType, tag, tree.role)
	}
	return tree.construct(tag, e.factory), nil
}

func (r *Registry) entry(role Role, tag TypeTag) (registryEntry, bool) {
	if tag == EndOfStream {
		return registryEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.roles[role]
	if int(tag) > len(entries) {
		return registryEntry{}, false
	}
	return entries[tag-1], true
}

// RegisterBasic registers the core-only node type.
func RegisterBasic(r *Registry, role Role) (TypeTag, error) {
	return r.Register(role, BasicTypeName, nil)
}

// ManifestMismatch reports the first tag position where two manifests
// disagree, or -1 when they are identical.
func ManifestMismatch(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
