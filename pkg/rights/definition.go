package rights

import "context"

// ID is the stable, globally unique identifier of a right. It is independent
// of how the right's availability is derived.
type ID string

func (id ID) String() string { return string(id) }

// Category groups rights for display. It carries no authorization semantics.
type Category string

// Subject is the membership view a definition is evaluated against. The
// membership cache provides snapshot-backed implementations.
type Subject interface {
	UserID() int64
	MemberOf(group string) bool
}

// Definition describes one named capability: its value domain and how
// availability is derived. Definitions are created at startup and never
// mutated afterwards. The closed set of variants lives in this package;
// the unexported method keeps it closed.
type Definition interface {
	ID() ID
	Category() Category

	// DependsOn returns the parent definition gating this one, or nil.
	DependsOn() Definition

	// AllowedValues returns the declared value domain of the right.
	AllowedValues() []Value

	// IsAvailable reports whether the right applies to the subject at all.
	IsAvailable(s Subject) bool

	// IsValueAvailable reports whether one specific value is available.
	IsValueAvailable(s Subject, v Value) bool

	// Matches reports whether the value is auto-granted to the subject by
	// group membership, independent of any stored assignment.
	Matches(s Subject, v Value) bool

	// AvailableValues filters the declared domain through IsValueAvailable.
	AvailableValues(s Subject) []Value

	// IsConfigurable reports whether the subject has an actual choice among
	// the available values, versus every value being forced by auto-grants.
	IsConfigurable(s Subject) bool

	// availableLocally evaluates this definition's own gate, ignoring the
	// dependsOn chain.
	availableLocally(s Subject) bool
}

// chainAvailable walks d and its entire dependsOn chain. Registration rejects
// cycles, but the walk still carries a visited set so a misconfigured chain
// reads as unavailable instead of recursing forever.
func chainAvailable(d Definition, s Subject) bool {
	seen := make(map[ID]struct{}, 4)
	for cur := d; cur != nil; cur = cur.DependsOn() {
		if _, dup := seen[cur.ID()]; dup {
			return false
		}
		seen[cur.ID()] = struct{}{}
		if !cur.availableLocally(s) {
			return false
		}
	}
	return true
}

// availableValues implements AvailableValues for every variant.
func availableValues(d Definition, s Subject) []Value {
	var out []Value
	for _, v := range d.AllowedValues() {
		if d.IsValueAvailable(s, v) {
			out = append(out, v)
		}
	}
	return out
}

// isConfigurable decides whether the subject has a real choice. A right is
// configurable when at least one available non-FALSE value is neither
// auto-matched itself nor covered by an auto-matched value that includes it.
func isConfigurable(d Definition, s Subject) bool {
	avail := d.AvailableValues(s)
	if len(avail) <= 1 {
		return false
	}
	for _, v := range avail {
		if v == ValueFalse {
			continue
		}
		if d.Matches(s, v) {
			continue
		}
		covered := false
		for _, w := range Values() {
			if w != v && w.Includes(v) && d.Matches(s, w) {
				covered = true
				break
			}
		}
		if !covered {
			return true
		}
	}
	return false
}

// BaseDefinition is the plain variant: availability delegates to the parent
// chain, nothing is auto-granted.
type BaseDefinition struct {
	id        ID
	category  Category
	values    []Value
	dependsOn Definition
}

// NewBase creates a base definition. dependsOn may be nil.
func NewBase(id ID, category Category, values []Value, dependsOn Definition) *BaseDefinition {
	return &BaseDefinition{
		id:        id,
		category:  category,
		values:    append([]Value(nil), values...),
		dependsOn: dependsOn,
	}
}

func (d *BaseDefinition) ID() ID                { return d.id }
func (d *BaseDefinition) Category() Category    { return d.category }
func (d *BaseDefinition) DependsOn() Definition { return d.dependsOn }

func (d *BaseDefinition) AllowedValues() []Value {
	return append([]Value(nil), d.values...)
}

func (d *BaseDefinition) availableLocally(Subject) bool { return true }

func (d *BaseDefinition) IsAvailable(s Subject) bool {
	return chainAvailable(d, s)
}

func (d *BaseDefinition) IsValueAvailable(s Subject, v Value) bool {
	return containsValue(d.values, v) && d.IsAvailable(s)
}

func (d *BaseDefinition) Matches(Subject, Value) bool { return false }

func (d *BaseDefinition) AvailableValues(s Subject) []Value {
	return availableValues(d, s)
}

func (d *BaseDefinition) IsConfigurable(s Subject) bool {
	return isConfigurable(d, s)
}

// GroupGatedDefinition requires membership in at least one named group. An
// optional per-group restriction narrows the value set for members of that
// group; a single-value restriction turns into an automatic, non-configurable
// grant for that group's members.
type GroupGatedDefinition struct {
	BaseDefinition
	requiredGroups []string
	restrictions   map[string][]Value
}

// NewGroupGated creates a group-gated definition. dependsOn may be nil.
func NewGroupGated(id ID, category Category, values []Value, requiredGroups []string, dependsOn Definition) *GroupGatedDefinition {
	return &GroupGatedDefinition{
		BaseDefinition: BaseDefinition{
			id:        id,
			category:  category,
			values:    append([]Value(nil), values...),
			dependsOn: dependsOn,
		},
		requiredGroups: append([]string(nil), requiredGroups...),
	}
}

// RequiredGroups returns the group names gating this right.
func (d *GroupGatedDefinition) RequiredGroups() []string {
	return append([]string(nil), d.requiredGroups...)
}

// Restrict limits members of group to the given values. A single value means
// members of that group get exactly that value, not configurable.
func (d *GroupGatedDefinition) Restrict(group string, values ...Value) *GroupGatedDefinition {
	if d.restrictions == nil {
		d.restrictions = make(map[string][]Value)
	}
	d.restrictions[group] = append([]Value(nil), values...)
	return d
}

func (d *GroupGatedDefinition) availableLocally(s Subject) bool {
	for _, g := range d.requiredGroups {
		if s.MemberOf(g) {
			return true
		}
	}
	return false
}

func (d *GroupGatedDefinition) IsAvailable(s Subject) bool {
	return chainAvailable(d, s)
}

func (d *GroupGatedDefinition) IsValueAvailable(s Subject, v Value) bool {
	if !containsValue(d.values, v) || !d.IsAvailable(s) {
		return false
	}
	if len(d.restrictions) == 0 {
		return true
	}
	// The value is available when at least one required group the subject
	// belongs to either carries no restriction or lists the value.
	for _, g := range d.requiredGroups {
		if !s.MemberOf(g) {
			continue
		}
		restricted, ok := d.restrictions[g]
		if !ok || len(restricted) == 0 || containsValue(restricted, v) {
			return true
		}
	}
	return false
}

func (d *GroupGatedDefinition) Matches(s Subject, v Value) bool {
	for _, g := range d.requiredGroups {
		if !s.MemberOf(g) {
			continue
		}
		if restricted, ok := d.restrictions[g]; ok && len(restricted) == 1 && restricted[0] == v {
			return true
		}
	}
	return false
}

func (d *GroupGatedDefinition) AvailableValues(s Subject) []Value {
	return availableValues(d, s)
}

func (d *GroupGatedDefinition) IsConfigurable(s Subject) bool {
	return isConfigurable(d, s)
}

// AccessChecker authorizes entity-level operations for self-checking rights.
// Implementations live outside this package, next to the entity they guard.
type AccessChecker interface {
	CanSelect(ctx context.Context, s Subject) bool
	CanInsert(ctx context.Context, s Subject) bool
	CanUpdate(ctx context.Context, s Subject) bool
	CanDelete(ctx context.Context, s Subject) bool
}

// EntityCheckedDefinition performs its own select/insert/update/delete
// authorization through an AccessChecker. Value availability delegates to an
// embedded group-gated definition when one is attached, else base behavior.
type EntityCheckedDefinition struct {
	BaseDefinition
	checker AccessChecker
	gated   *GroupGatedDefinition
}

// NewEntityChecked creates a self-checking definition. gated may be nil, in
// which case value availability follows base behavior.
func NewEntityChecked(id ID, category Category, values []Value, checker AccessChecker, gated *GroupGatedDefinition, dependsOn Definition) *EntityCheckedDefinition {
	return &EntityCheckedDefinition{
		BaseDefinition: BaseDefinition{
			id:        id,
			category:  category,
			values:    append([]Value(nil), values...),
			dependsOn: dependsOn,
		},
		checker: checker,
		gated:   gated,
	}
}

func (d *EntityCheckedDefinition) availableLocally(s Subject) bool {
	if d.gated != nil {
		return d.gated.availableLocally(s)
	}
	return true
}

func (d *EntityCheckedDefinition) IsAvailable(s Subject) bool {
	return chainAvailable(d, s)
}

func (d *EntityCheckedDefinition) IsValueAvailable(s Subject, v Value) bool {
	if d.gated != nil {
		if !containsValue(d.values, v) || !d.IsAvailable(s) {
			return false
		}
		return d.gated.IsValueAvailable(s, v)
	}
	return containsValue(d.values, v) && d.IsAvailable(s)
}

func (d *EntityCheckedDefinition) Matches(s Subject, v Value) bool {
	if d.gated != nil {
		return d.gated.Matches(s, v)
	}
	return false
}

func (d *EntityCheckedDefinition) AvailableValues(s Subject) []Value {
	return availableValues(d, s)
}

func (d *EntityCheckedDefinition) IsConfigurable(s Subject) bool {
	return isConfigurable(d, s)
}

// CanSelect authorizes reading the guarded entity.
func (d *EntityCheckedDefinition) CanSelect(ctx context.Context, s Subject) bool {
	return d.checker != nil && d.checker.CanSelect(ctx, s)
}

// CanInsert authorizes creating the guarded entity.
func (d *EntityCheckedDefinition) CanInsert(ctx context.Context, s Subject) bool {
	return d.checker != nil && d.checker.CanInsert(ctx, s)
}

// CanUpdate authorizes modifying the guarded entity.
func (d *EntityCheckedDefinition) CanUpdate(ctx context.Context, s Subject) bool {
	return d.checker != nil && d.checker.CanUpdate(ctx, s)
}

// CanDelete authorizes removing the guarded entity.
func (d *EntityCheckedDefinition) CanDelete(ctx context.Context, s Subject) bool {
	return d.checker != nil && d.checker.CanDelete(ctx, s)
}
