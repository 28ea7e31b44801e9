// Package consistency implements optimistic locking through a version
// attribute.
//
// Every mutation of a versioned item carries a guard condition: the stored
// version must equal the local one, or be absent when the item has never been
// saved. A stale copy therefore fails with a conditional check failure instead
// of overwriting newer state. The local version only moves after the store
// confirms the write.
package consistency

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// VersionGuard computes the version condition and post-write version of one
// item. It holds no state of its own.
type VersionGuard struct {
	item *model.Item
	attr *model.Attribute
}

// Guard returns the guard for it.
func Guard(it *model.Item) VersionGuard {
	return VersionGuard{item: it, attr: it.Schema().Version()}
}

// Versioned reports whether the item's table declares a version attribute.
func (g VersionGuard) Versioned() bool { return g.attr != nil }

// Condition returns "version = local" for a saved item, or
// "attribute_not_exists (version)" for a new one. It returns false when the
// table is not versioned.
func (g VersionGuard) Condition() (expression.Condition, bool) {
	if g.attr == nil {
		return nil, false
	}
	v, ok := g.item.Version()
	if !ok {
		return g.attr.NotExists(), true
	}
	return g.attr.Eq(v), true
}

// Merge ANDs the guard with a caller condition, guard first. Either may be
// absent; the result is nil when both are.
func (g VersionGuard) Merge(caller expression.Condition) expression.Condition {
	guard, ok := g.Condition()
	switch {
	case !ok:
		return caller
	case caller == nil:
		return guard
	}
	return expression.And(guard, caller)
}

// Next returns the version the item will have after a successful write: 1
// for a new item, local + 1 otherwise. It is 0 for unversioned tables.
func (g VersionGuard) Next() int64 {
	if g.attr == nil {
		return 0
	}
	v, ok := g.item.Version()
	if !ok {
		return 1
	}
	return v + 1
}

// SaveImage encodes the item for a full put with the version set to Next.
// The item itself is not modified.
func (g VersionGuard) SaveImage() (map[string]types.AttributeValue, error) {
	image, err := g.item.Encode()
	if err != nil {
		return nil, err
	}
	if g.attr == nil {
		return image, nil
	}
	av, err := g.attr.Serialize(g.Next())
	if err != nil {
		return nil, err
	}
	image[g.attr.Name()] = av
	return image, nil
}

// UpdateActions appends the version bump to a caller's update actions:
// "SET version = 1" for a new item, "ADD version 1" otherwise.
func (g VersionGuard) UpdateActions(actions []expression.Action) []expression.Action {
	if g.attr == nil {
		return actions
	}
	out := append([]expression.Action(nil), actions...)
	if _, ok := g.item.Version(); !ok {
		return append(out, g.attr.Set(int64(1)))
	}
	return append(out, g.attr.Add(1))
}

// Apply records a confirmed write by moving the local version to Next.
func (g VersionGuard) Apply() {
	if g.attr != nil {
		g.item.SetVersion(g.Next())
	}
}
