package membership

import (
	"strings"
	"time"

	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
)

// SpecialGroup identifies one of the reserved group roles whose membership is
// precomputed into a dedicated set during the snapshot build.
type SpecialGroup string

const (
	SpecialAdmin            SpecialGroup = "admin"
	SpecialFinance          SpecialGroup = "finance"
	SpecialControlling      SpecialGroup = "controlling"
	SpecialProjectManager   SpecialGroup = "project-manager"
	SpecialProjectAssistant SpecialGroup = "project-assistant"
	SpecialMarketing        SpecialGroup = "marketing"
	SpecialOrganization     SpecialGroup = "organization"
	SpecialHR               SpecialGroup = "hr"
)

// SpecialGroups returns all reserved group kinds.
func SpecialGroups() []SpecialGroup {
	return []SpecialGroup{
		SpecialAdmin, SpecialFinance, SpecialControlling,
		SpecialProjectManager, SpecialProjectAssistant,
		SpecialMarketing, SpecialOrganization, SpecialHR,
	}
}

// reservedGroupNames maps the reserved group names to their special kind.
// Matching is case-insensitive.
var reservedGroupNames = map[string]SpecialGroup{
	"administrators":     SpecialAdmin,
	"finance":            SpecialFinance,
	"controlling":        SpecialControlling,
	"project management": SpecialProjectManager,
	"project assistance": SpecialProjectAssistant,
	"marketing":          SpecialMarketing,
	"organization team":  SpecialOrganization,
	"human resources":    SpecialHR,
}

// SpecialGroupForName returns the special kind a group name is reserved for.
func SpecialGroupForName(name string) (SpecialGroup, bool) {
	kind, ok := reservedGroupNames[strings.ToLower(name)]
	return kind, ok
}

// Snapshot is one immutable generation of a tenant's membership and
// right-assignment data. It is built in a single pass and published with one
// atomic pointer swap; it is never mutated afterwards.
type Snapshot struct {
	generation uint64
	builtAt    time.Time

	users         map[int64]store.User
	groups        map[int64]store.Group
	userGroups    map[int64]map[int64]struct{}
	special       map[SpecialGroup]map[int64]struct{}
	membersByName map[string]map[int64]struct{}
	assignments   map[int64][]store.Assignment
	droppedRows   int
	unknownRights int
}

// Generation returns the monotonically increasing snapshot generation.
func (s *Snapshot) Generation() uint64 { return s.generation }

// BuiltAt returns when the snapshot was constructed.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// UserCount returns the number of users in the snapshot.
func (s *Snapshot) UserCount() int { return len(s.users) }

// GroupCount returns the number of groups in the snapshot.
func (s *Snapshot) GroupCount() int { return len(s.groups) }

// User returns the read-only copy of a user record.
func (s *Snapshot) User(id int64) (store.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// Group returns the read-only copy of a group record.
func (s *Snapshot) Group(id int64) (store.Group, bool) {
	g, ok := s.groups[id]
	return g, ok
}

// GroupIDs returns the ids of every group the user belongs to.
func (s *Snapshot) GroupIDs(userID int64) map[int64]struct{} {
	return s.userGroups[userID]
}

// IsMemberOfGroup reports whether the user belongs to the group.
func (s *Snapshot) IsMemberOfGroup(userID, groupID int64) bool {
	_, ok := s.userGroups[userID][groupID]
	return ok
}

// IsMemberOfSpecialGroup reports whether the user is in a reserved group.
func (s *Snapshot) IsMemberOfSpecialGroup(userID int64, kind SpecialGroup) bool {
	_, ok := s.special[kind][userID]
	return ok
}

// Assignments returns the user's indexed right assignments. Only rows whose
// right was registered and available to the user at build time are present.
func (s *Snapshot) Assignments(userID int64) []store.Assignment {
	return s.assignments[userID]
}

// Subject returns the rule-evaluation view of one user under this snapshot.
func (s *Snapshot) Subject(userID int64) rights.Subject {
	return snapshotSubject{snap: s, userID: userID}
}

type snapshotSubject struct {
	snap   *Snapshot
	userID int64
}

func (s snapshotSubject) UserID() int64 { return s.userID }

func (s snapshotSubject) MemberOf(group string) bool {
	_, ok := s.snap.membersByName[strings.ToLower(group)][s.userID]
	return ok
}

// emptySubject answers false to everything. It stands in when no snapshot is
// available so callers degrade to "no access" instead of failing.
type emptySubject struct{ userID int64 }

func (s emptySubject) UserID() int64      { return s.userID }
func (emptySubject) MemberOf(string) bool { return false }

// buildSnapshot assembles one generation from bulk-loaded records. Assignment
// rows are grouped by direct map insertion keyed by user id, so the builder
// holds no ordering assumption about the input. Rows whose right is no longer
// registered, or not available to the user under the snapshot being built,
// are dropped from the index; the reconciler owns cleaning them up in
// storage.
func buildSnapshot(
	generation uint64,
	now time.Time,
	users []store.User,
	groups []store.Group,
	assignments []store.Assignment,
	registry *rights.Registry,
	log *observability.Logger,
) *Snapshot {
	snap := &Snapshot{
		generation:    generation,
		builtAt:       now,
		users:         make(map[int64]store.User, len(users)),
		groups:        make(map[int64]store.Group, len(groups)),
		userGroups:    make(map[int64]map[int64]struct{}, len(users)),
		special:       make(map[SpecialGroup]map[int64]struct{}, 8),
		membersByName: make(map[string]map[int64]struct{}, len(groups)),
		assignments:   make(map[int64][]store.Assignment),
	}

	for _, kind := range SpecialGroups() {
		snap.special[kind] = make(map[int64]struct{})
	}

	for _, u := range users {
		snap.users[u.ID] = u
	}

	for _, g := range groups {
		snap.groups[g.ID] = g

		name := strings.ToLower(g.Name)
		byName := snap.membersByName[name]
		if byName == nil {
			byName = make(map[int64]struct{}, len(g.MemberIDs))
			snap.membersByName[name] = byName
		}

		kind, reserved := SpecialGroupForName(g.Name)
		for _, userID := range g.MemberIDs {
			byName[userID] = struct{}{}
			groupSet := snap.userGroups[userID]
			if groupSet == nil {
				groupSet = make(map[int64]struct{}, 4)
				snap.userGroups[userID] = groupSet
			}
			groupSet[g.ID] = struct{}{}
			if reserved {
				snap.special[kind][userID] = struct{}{}
			}
		}
	}

	for _, a := range assignments {
		def, err := registry.Get(a.RightID)
		if err != nil {
			// The right was unregistered since the row was written. Keep the
			// row out of the index; storage cleanup is the reconciler's job.
			snap.unknownRights++
			log.WithField("right", a.RightID.String()).Warn("dropping assignment row for unregistered right")
			continue
		}
		if !def.IsAvailable(snap.Subject(a.UserID)) {
			snap.droppedRows++
			continue
		}
		snap.assignments[a.UserID] = append(snap.assignments[a.UserID], a)
	}

	return snap
}
