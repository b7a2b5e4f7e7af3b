// Package role keeps track of which simulated nodes are malicious.
//
// A Registry is built once during scenario setup. After the setup pass it can
// be frozen, from which point the role map is read-only.
package role

import (
	"errors"
	"fmt"
	"log"
	"sort"
)

var (
	// ErrInvalidConfiguration is returned when the requested population cannot
	// be built.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnknownIdentity is returned when an operation refers to an entity
	// that is not part of the population.
	ErrUnknownIdentity = errors.New("unknown identity")
)

// EntityID identifies an entity. IDs are assigned sequentially from 0.
type EntityID uint32

// Role is the label attached to an entity.
type Role int

// The roles an entity can take.
const (
	Benign Role = iota
	Malicious
)

func (r Role) String() string {
	switch r {
	case Benign:
		return "benign"
	case Malicious:
		return "malicious"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// PopulationMode decides how the malicious count relates to the total count.
type PopulationMode int

const (
	// PopulationAdditive appends the malicious entities after the base
	// population, so a registry has total+malicious entities.
	PopulationAdditive PopulationMode = iota

	// PopulationSubset flags malicious entities inside the base population,
	// so a registry has total entities.
	PopulationSubset
)

func (m PopulationMode) String() string {
	switch m {
	case PopulationAdditive:
		return "additive"
	case PopulationSubset:
		return "subset"
	default:
		return fmt.Sprintf("PopulationMode(%d)", int(m))
	}
}

// ParsePopulationMode converts "additive" or "subset" to a PopulationMode.
func ParsePopulationMode(s string) (PopulationMode, error) {
	switch s {
	case "additive", "":
		return PopulationAdditive, nil
	case "subset":
		return PopulationSubset, nil
	default:
		return 0, fmt.Errorf("%w: unknown population mode %q",
			ErrInvalidConfiguration, s)
	}
}

// An Entity is one simulated network node.
type Entity struct {
	ID   EntityID
	Role Role
}

// A Registry owns the population of entities and their roles.
type Registry struct {
	entities []Entity
	roles    map[EntityID]Role
	frozen   bool

	mode                PopulationMode
	configuredMalicious int
}

// Create builds a registry. In additive mode the registry holds
// totalCount+maliciousCount entities; in subset mode it holds totalCount
// entities and maliciousCount must not exceed totalCount. Every entity starts
// as Benign.
func Create(totalCount, maliciousCount int, mode PopulationMode) (*Registry, error) {
	if totalCount < 0 || maliciousCount < 0 {
		return nil, fmt.Errorf("%w: negative node count (total %d, malicious %d)",
			ErrInvalidConfiguration, totalCount, maliciousCount)
	}

	size := 0
	switch mode {
	case PopulationAdditive:
		size = totalCount + maliciousCount
	case PopulationSubset:
		if maliciousCount > totalCount {
			return nil, fmt.Errorf(
				"%w: %d malicious nodes cannot be a subset of %d nodes",
				ErrInvalidConfiguration, maliciousCount, totalCount)
		}
		size = totalCount
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfiguration, mode)
	}

	r := &Registry{
		entities:            make([]Entity, size),
		roles:               make(map[EntityID]Role, size),
		mode:                mode,
		configuredMalicious: maliciousCount,
	}

	for i := range r.entities {
		id := EntityID(i)
		r.entities[i] = Entity{ID: id, Role: Benign}
		r.roles[id] = Benign
	}

	return r, nil
}

// Mode returns the population mode the registry was created with.
func (r *Registry) Mode() PopulationMode {
	return r.mode
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	return len(r.entities)
}

// Entities returns a copy of the entities, ordered by ID.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)

	return out
}

// DesignatedMalicious returns the IDs that the configuration intends to be
// malicious. In additive mode these are the appended entities. In subset mode
// these are the last maliciousCount entities of the population.
func (r *Registry) DesignatedMalicious() []EntityID {
	ids := make([]EntityID, 0, r.configuredMalicious)
	first := len(r.entities) - r.configuredMalicious

	for i := first; i < len(r.entities); i++ {
		ids = append(ids, EntityID(i))
	}

	return ids
}

// MarkMalicious flags the given entities as malicious. All the IDs are checked
// before any role changes, so a failed call leaves the registry untouched.
// Marking an entity that is already malicious is a no-op.
func (r *Registry) MarkMalicious(ids ...EntityID) error {
	if r.frozen {
		log.Panic("cannot change roles after the registry is frozen")
	}

	for _, id := range ids {
		if _, found := r.roles[id]; !found {
			return fmt.Errorf("%w: node %d (population %d)",
				ErrUnknownIdentity, id, len(r.entities))
		}
	}

	for _, id := range ids {
		r.roles[id] = Malicious
		r.entities[id].Role = Malicious
	}

	return nil
}

// RoleOf returns the role of an entity.
func (r *Registry) RoleOf(id EntityID) (Role, error) {
	role, found := r.roles[id]
	if !found {
		return Benign, fmt.Errorf("%w: node %d", ErrUnknownIdentity, id)
	}

	return role, nil
}

// IsMalicious tells if an entity is flagged malicious. Unknown entities are
// not malicious.
func (r *Registry) IsMalicious(id EntityID) bool {
	return r.roles[id] == Malicious
}

// MaliciousCount returns the number of entities currently flagged malicious.
// The count follows the role state, not the configured count.
func (r *Registry) MaliciousCount() int {
	count := 0
	for _, role := range r.roles {
		if role == Malicious {
			count++
		}
	}

	return count
}

// MaliciousIDs returns the IDs of the malicious entities in ascending order.
func (r *Registry) MaliciousIDs() []EntityID {
	ids := make([]EntityID, 0)
	for id, role := range r.roles {
		if role == Malicious {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Freeze ends the setup phase. Any later MarkMalicious call panics.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen tells if the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen
}
