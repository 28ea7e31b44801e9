package dynamodel

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynamodel/internal/mutation"
	customerrors "github.com/pay-theory/dynamodel/pkg/errors"
	"github.com/pay-theory/dynamodel/pkg/expression"
	"github.com/pay-theory/dynamodel/pkg/model"
)

func (t *Table) checkSchema(it *model.Item) error {
	if it.Schema() != t.schema {
		return customerrors.NewCompilationError("item", "item of table %s used with table %s", it.Schema().Table(), t.Name())
	}
	return nil
}

// Save writes the whole item. On a versioned table the write only succeeds
// when the stored version still matches the local one; the local version is
// bumped after the store confirms.
func (t *Table) Save(ctx context.Context, it *model.Item, opts ...WriteOption) error {
	if err := t.checkSchema(it); err != nil {
		return err
	}
	o := writeOptionsOf(opts)
	r, err := mutation.Save(it, o.condition)
	if err != nil {
		return err
	}
	if _, err := t.put(ctx, r.Image, r.Comps, o.returnValues); err != nil {
		return err
	}
	r.Applied()
	return nil
}

// Update applies actions to the stored item under the version guard. The
// item is replaced with the stored image returned by the store.
func (t *Table) Update(ctx context.Context, it *model.Item, actions []expression.Action, opts ...WriteOption) error {
	if err := t.checkSchema(it); err != nil {
		return err
	}
	o := writeOptionsOf(opts)
	r, err := mutation.Update(it, actions, o.condition)
	if err != nil {
		return err
	}
	out, err := t.update(ctx, r.Key, r.Comps, types.ReturnValueAllNew)
	if err != nil {
		return err
	}
	r.Applied()
	if len(out.Attributes) == 0 {
		return nil
	}
	fresh, err := t.decode(ctx, out.Attributes)
	if err != nil {
		return err
	}
	it.Replace(fresh)
	return nil
}

// Delete removes the stored item under the version guard and marks the local
// item deleted.
func (t *Table) Delete(ctx context.Context, it *model.Item, opts ...WriteOption) error {
	if err := t.checkSchema(it); err != nil {
		return err
	}
	o := writeOptionsOf(opts)
	r, err := mutation.Delete(it, o.condition)
	if err != nil {
		return err
	}
	if _, err := t.delete(ctx, r.Key, r.Comps, o.returnValues); err != nil {
		return err
	}
	r.Applied()
	return nil
}

// Get reads the item with the given key values. rangeKey is ignored on tables
// without a range key.
func (t *Table) Get(ctx context.Context, hashKey, rangeKey any, opts ...ReadOption) (*model.Item, error) {
	key, err := t.schema.Key(hashKey, rangeKey)
	if err != nil {
		return nil, err
	}
	image, err := t.GetItem(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	return t.decode(ctx, image)
}

// Refresh replaces the local item with a consistent read of the stored one.
func (t *Table) Refresh(ctx context.Context, it *model.Item) error {
	if err := t.checkSchema(it); err != nil {
		return err
	}
	key, err := it.Key()
	if err != nil {
		return err
	}
	image, err := t.GetItem(ctx, key, Consistent())
	if err != nil {
		return err
	}
	fresh, err := t.decode(ctx, image)
	if err != nil {
		return err
	}
	it.Replace(fresh)
	return nil
}

// BatchSave writes items without version guards, which batch writes cannot
// carry. Local versions are not changed.
func (t *Table) BatchSave(ctx context.Context, items ...*model.Item) error {
	images := make([]map[string]types.AttributeValue, 0, len(items))
	for _, it := range items {
		if err := t.checkSchema(it); err != nil {
			return err
		}
		image, err := it.Encode()
		if err != nil {
			return err
		}
		images = append(images, image)
	}
	return t.BatchWriteItem(ctx, images, nil)
}

// BatchDelete removes items without version guards and marks them deleted
// once every chunk is accepted.
func (t *Table) BatchDelete(ctx context.Context, items ...*model.Item) error {
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, it := range items {
		if err := t.checkSchema(it); err != nil {
			return err
		}
		key, err := it.Key()
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	if err := t.BatchWriteItem(ctx, nil, keys); err != nil {
		return err
	}
	for _, it := range items {
		it.MarkDeleted()
	}
	return nil
}

// BatchGet reads the items at keys. Missing items are left out of the result.
func (t *Table) BatchGet(ctx context.Context, keys []map[string]types.AttributeValue, opts ...ReadOption) ([]*model.Item, error) {
	images, err := t.BatchGetItem(ctx, keys, opts...)
	if err != nil {
		return nil, err
	}
	items := make([]*model.Item, 0, len(images))
	for _, image := range images {
		it, err := t.decode(ctx, image)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
