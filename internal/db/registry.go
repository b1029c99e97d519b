package db

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"gorm.io/gorm/schema"

	"fastanalytics/internal/db/timescale"
)

// HypertableModel is implemented by models stored in a hypertable.
type HypertableModel interface {
	schema.Tabler
	TimeColumn() string
	ChunkInterval() timescale.Interval
}

type measured interface {
	MeasureColumn() string
}

// hypertableModels lists, in creation order, every model backed by a hypertable.
var hypertableModels = []HypertableModel{
	&Event{},
}

// Entity is the parsed metadata of a registered hypertable model.
type Entity struct {
	model      HypertableModel
	schema     *schema.Schema
	schemaName string
	table      string
	measure    string
	aliases    map[string]string
}

func (e *Entity) Name() string                      { return e.schema.Name }
func (e *Entity) Schema() string                    { return e.schemaName }
func (e *Entity) Table() string                     { return e.table }
func (e *Entity) TimeColumn() string                { return e.model.TimeColumn() }
func (e *Entity) ChunkInterval() timescale.Interval { return e.model.ChunkInterval() }

// Model returns the GORM model value, suitable for AutoMigrate.
func (e *Entity) Model() any { return e.model }

// QualifiedTable returns schema.table.
func (e *Entity) QualifiedTable() string {
	return timescale.QualifiedName(e.schemaName, e.table)
}

// MeasureColumn is the numeric column aggregate functions apply to, or "".
func (e *Entity) MeasureColumn() string { return e.measure }

// FieldByAlias resolves an external field name to its column.
func (e *Entity) FieldByAlias(alias string) (string, bool) {
	col, ok := e.aliases[alias]
	return col, ok
}

// IsNumeric reports whether column (or Go field name) holds a number.
// Unknown fields are not numeric.
func (e *Entity) IsNumeric(name string) bool {
	f := e.schema.LookUpField(name)
	if f == nil {
		return false
	}
	switch f.GORMDataType {
	case schema.Int, schema.Uint, schema.Float:
		return true
	}
	return false
}

// NumericFields returns the columns holding numbers, in declaration order.
func (e *Entity) NumericFields() []string {
	var out []string
	for _, f := range e.schema.Fields {
		if f.DBName != "" && e.IsNumeric(f.DBName) {
			out = append(out, f.DBName)
		}
	}
	return out
}

// Registry holds the hypertable entities in registration order.
type Registry struct {
	entities []*Entity
	byTable  map[string]*Entity
}

// NewRegistry parses the registered hypertable models.
func NewRegistry(namer schema.Namer) (*Registry, error) {
	return newRegistry(namer, hypertableModels...)
}

func newRegistry(namer schema.Namer, models ...HypertableModel) (*Registry, error) {
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	cache := &sync.Map{}
	r := &Registry{byTable: make(map[string]*Entity, len(models))}
	for _, m := range models {
		e, err := parseEntity(m, cache, namer)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byTable[e.QualifiedTable()]; dup {
			return nil, fmt.Errorf("table %s registered twice", e.QualifiedTable())
		}
		r.entities = append(r.entities, e)
		r.byTable[e.QualifiedTable()] = e
	}
	return r, nil
}

func parseEntity(m HypertableModel, cache *sync.Map, namer schema.Namer) (*Entity, error) {
	s, err := schema.Parse(m, cache, namer)
	if err != nil {
		return nil, fmt.Errorf("parse model %T: %w", m, err)
	}
	e := &Entity{model: m, schema: s, aliases: make(map[string]string)}
	e.schemaName, e.table = splitTable(s.Table)
	if s.LookUpField(m.TimeColumn()) == nil {
		return nil, fmt.Errorf("model %s: time column %q is not a field", s.Name, m.TimeColumn())
	}
	if mm, ok := m.(measured); ok {
		e.measure = mm.MeasureColumn()
		if !e.IsNumeric(e.measure) {
			return nil, fmt.Errorf("model %s: measure column %q is not numeric", s.Name, e.measure)
		}
	}
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		alias := jsonName(f.Tag)
		if alias == "" {
			alias = f.DBName
		}
		e.aliases[alias] = f.DBName
	}
	return e, nil
}

// Entities returns the entities in registration order.
func (r *Registry) Entities() []*Entity {
	return append([]*Entity(nil), r.entities...)
}

// Models returns the entities as timescale models, in registration order.
func (r *Registry) Models() []timescale.Model {
	out := make([]timescale.Model, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// ErrUnknownEntity is returned by Lookup for unregistered tables.
var ErrUnknownEntity = errors.New("unknown entity")

// Lookup returns the entity stored in the qualified table.
func (r *Registry) Lookup(table string) (*Entity, error) {
	e, ok := r.byTable[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, table)
	}
	return e, nil
}

func splitTable(table string) (string, string) {
	if schemaName, name, ok := strings.Cut(table, "."); ok {
		return schemaName, name
	}
	return "", table
}

func jsonName(tag reflect.StructTag) string {
	name, _, _ := strings.Cut(tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}
