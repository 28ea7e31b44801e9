package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pay-theory/dynamodel/pkg/errors"
)

// Registry manages registered schemas by table name
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Schema
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		tables: make(map[string]*Schema),
	}
}

// Register validates def, freezes it into a Schema and stores it. Registering
// a table that is already known returns the existing schema.
func (r *Registry) Register(def SchemaDef) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tables[def.Table]; ok {
		return existing, nil
	}

	schema, err := NewSchema(def)
	if err != nil {
		return nil, err
	}

	r.tables[def.Table] = schema
	return schema, nil
}

// Add stores an already built schema.
func (r *Registry) Add(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[s.table] = s
}

// Lookup retrieves the schema of a table
func (r *Registry) Lookup(table string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.tables[table]
	if !exists {
		return nil, fmt.Errorf("%w: %s", errors.ErrTableNotRegistered, table)
	}

	return schema, nil
}

// Tables returns the registered table names in sorted order
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
