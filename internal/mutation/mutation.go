// Package mutation compiles the guarded write requests of one item. The root
// package and the transaction coordinator send the same requests, the former
// as single calls and the latter inside TransactWriteItems.
package mutation

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/expr"
	"github.com/pay-theory/dynamodel/pkg/consistency"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

// Kind is the type of a write.
type Kind int

const (
	KindPut Kind = iota
	KindUpdate
	KindDelete
	KindCheck
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "Put"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	case KindCheck:
		return "ConditionCheck"
	}
	return "Unknown"
}

// Request is one compiled write. Image is set for puts only.
type Request struct {
	Kind   Kind
	Table  string
	KeyID  string
	Key    map[string]types.AttributeValue
	Image  map[string]types.AttributeValue
	Comps  expr.ExpressionComponents
	Item   *model.Item
	Schema *model.Schema

	// Version is the post-write version of a versioned item.
	Version   int64
	versioned bool
}

// Save compiles a full put of it. The guard condition comes first, then the
// caller's.
func Save(it *model.Item, caller expression.Condition) (*Request, error) {
	if err := it.Schema().CheckQueryable(caller); err != nil {
		return nil, err
	}
	g := consistency.Guard(it)
	r, err := newRequest(KindPut, it)
	if err != nil {
		return nil, err
	}
	if r.Image, err = g.SaveImage(); err != nil {
		return nil, err
	}
	if cond := g.Merge(caller); cond != nil {
		if r.Comps, err = expr.CompileCondition(cond); err != nil {
			return nil, err
		}
	}
	r.Version, r.versioned = g.Next(), g.Versioned()
	return r, nil
}

// Update compiles an update of it. Key, version and encrypted attributes
// cannot be updated in place.
func Update(it *model.Item, actions []expression.Action, caller expression.Condition) (*Request, error) {
	if len(actions) == 0 {
		return nil, customerrors.NewCompilationError("update", "no actions")
	}
	s := it.Schema()
	if err := s.CheckQueryable(caller); err != nil {
		return nil, err
	}
	for _, a := range actions {
		if err := a.Err(); err != nil {
			return nil, err
		}
		target, ok := s.Lookup(a.Path.Root())
		if !ok {
			continue
		}
		switch {
		case target.IsKey():
			return nil, customerrors.NewCompilationError("update", "key attribute %q cannot be updated", target.Name())
		case target.Role() == model.RoleVersion:
			return nil, customerrors.NewCompilationError("update", "version attribute %q is managed by the version guard", target.Name())
		case target.Encrypted():
			return nil, customerrors.NewCompilationError("update", "encrypted attribute %q can only be written by a save", target.Name())
		}
	}

	g := consistency.Guard(it)
	r, err := newRequest(KindUpdate, it)
	if err != nil {
		return nil, err
	}
	if r.Comps, err = expr.CompileUpdate(g.Merge(caller), g.UpdateActions(actions)...); err != nil {
		return nil, err
	}
	r.Version, r.versioned = g.Next(), g.Versioned()
	return r, nil
}

// Delete compiles a delete of it.
func Delete(it *model.Item, caller expression.Condition) (*Request, error) {
	if err := it.Schema().CheckQueryable(caller); err != nil {
		return nil, err
	}
	g := consistency.Guard(it)
	r, err := newRequest(KindDelete, it)
	if err != nil {
		return nil, err
	}
	if cond := g.Merge(caller); cond != nil {
		if r.Comps, err = expr.CompileCondition(cond); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Check compiles a condition-only request against key.
func Check(s *model.Schema, key map[string]types.AttributeValue, cond expression.Condition) (*Request, error) {
	if cond == nil {
		return nil, customerrors.NewCompilationError("condition", "a condition check needs a condition")
	}
	if err := s.CheckQueryable(cond); err != nil {
		return nil, err
	}
	id, err := s.KeyID(key)
	if err != nil {
		return nil, err
	}
	comps, err := expr.CompileCondition(cond)
	if err != nil {
		return nil, err
	}
	return &Request{Kind: KindCheck, Table: s.Table(), KeyID: id, Key: key, Comps: comps, Schema: s}, nil
}

func newRequest(kind Kind, it *model.Item) (*Request, error) {
	key, err := it.Key()
	if err != nil {
		return nil, err
	}
	s := it.Schema()
	id, err := s.KeyID(key)
	if err != nil {
		return nil, err
	}
	return &Request{Kind: kind, Table: s.Table(), KeyID: id, Key: key, Item: it, Schema: s}, nil
}

// Applied records a confirmed write on the local item: puts and updates move
// the version to its post-write value, deletes mark the item deleted.
func (r *Request) Applied() {
	if r.Item == nil {
		return
	}
	switch r.Kind {
	case KindPut, KindUpdate:
		if r.versioned {
			r.Item.SetVersion(r.Version)
		}
	case KindDelete:
		r.Item.MarkDeleted()
	}
}
