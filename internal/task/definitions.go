package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TypeKey identifies a task definition.
type TypeKey string

// Reward is the static reward attached to a definition.
type Reward struct {
	XP     int    `json:"xp,omitempty"`
	Badge  string `json:"badge,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

// Kind returns a comma-joined list of the reward kinds carried.
func (r Reward) Kind() string {
	var kinds []string
	if r.XP > 0 {
		kinds = append(kinds, "xp")
	}
	if r.Badge != "" {
		kinds = append(kinds, "badge")
	}
	if r.Tokens > 0 {
		kinds = append(kinds, "tokens")
	}
	if len(kinds) == 0 {
		return "none"
	}
	return strings.Join(kinds, ",")
}

// Value returns the reward serialized for the reward record.
func (r Reward) Value() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// Definition is the immutable metadata and constructor for a task type.
type Definition struct {
	Type            TypeKey
	Title           string
	Description     string
	Reward          Reward
	DefaultDuration time.Duration
	Cooldown        time.Duration // wait after a terminal state before reassignment
	NeedsReview     bool          // completion requires an admin decision

	// New builds the verification strategy for an instance, validating
	// its params.
	New func(inst *Instance) (Task, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[TypeKey]Definition)
)

// Register adds a definition to the registry. Called from plugin init
// functions; duplicate registration is a programming error.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if def.Type == "" {
		panic("task: Register with empty type key")
	}
	if def.New == nil {
		panic(fmt.Sprintf("task: definition %s has no constructor", def.Type))
	}
	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("task: duplicate definition %s", def.Type))
	}
	registry[def.Type] = def
}

// GetDefinition returns the definition for a type key.
func GetDefinition(key TypeKey) (Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	if !ok {
		return Definition{}, fmt.Errorf("no such task definition: %s", key)
	}
	return def, nil
}

// AllDefinitions returns every registered definition, sorted by type key.
func AllDefinitions() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	defs := make([]Definition, 0, len(registry))
	for _, def := range registry {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Build constructs the strategy for an instance from its type key.
func Build(inst *Instance) (Task, error) {
	def, err := GetDefinition(inst.Type)
	if err != nil {
		return nil, err
	}
	return def.New(inst)
}
