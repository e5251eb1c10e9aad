// Package rights defines the right catalog of the entitlement engine: the
// graded value domain, the closed set of rule variants deciding availability,
// and the registry holding every definition.
//
// # Values
//
// A right takes one of five ordered values:
//
//	FALSE, TRUE, READONLY, PARTLYREADWRITE, READWRITE
//
// A partial includes relation exists on top of the order: READWRITE satisfies
// a READONLY requirement. This matters for configurability: a value forced by
// an auto-grant also covers the values it includes.
//
// # Rule variants
//
// Three variants implement Definition:
//
//   - BaseDefinition: available whenever its dependsOn chain is; nothing is
//     auto-granted.
//   - GroupGatedDefinition: requires membership in at least one named group,
//     optionally narrowing the value set per group. A group restricted to a
//     single value auto-grants that value to its members; the right is then
//     not configurable for them.
//   - EntityCheckedDefinition: authorizes entity-level select/insert/update/
//     delete through an external AccessChecker, delegating value availability
//     to an embedded group-gated definition when one is attached.
//
// Availability composes along the dependsOn chain: a right is available only
// if every ancestor is. The chain walk carries a visited set so a
// misconfigured cycle reads as unavailable; the registry rejects cycles at
// registration outright.
//
// # Registry
//
// The Registry is filled at startup — in code or from a YAML catalog via
// LoadCatalog — and is immutable afterwards. An unknown right id at lookup is
// a configuration error (ErrUnknownRight), deliberately distinct from a right
// being unavailable for a particular user, which is a plain false result.
// Duplicate registration logs an error and the later definition wins, unless
// the registry runs in strict mode.
package rights
