package store

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/JerryLinyx/feedrefresh/models"
)

var _ EntityStore[models.Post] = (*GormStore[models.Post])(nil)

var schemaCache sync.Map

// GormStore implements EntityStore for a gorm model.
type GormStore[T any] struct {
	db     *gorm.DB
	schema *schema.Schema
}

func NewGormStore[T any](db *gorm.DB) (*GormStore[T], error) {
	sch, err := schema.Parse(new(T), &schemaCache, db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if sch.PrioritizedPrimaryField == nil {
		return nil, fmt.Errorf("model %s has no primary key", sch.Name)
	}
	return &GormStore[T]{db: db, schema: sch}, nil
}

func (s *GormStore[T]) FindMatching(ctx context.Context, fields models.Fields) ([]*T, error) {
	cond, err := columns(s.schema, fields)
	if err != nil {
		return nil, err
	}

	var found []*T
	err = s.db.WithContext(ctx).
		Where(cond).
		Order(s.schema.PrioritizedPrimaryField.DBName).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *GormStore[T]) Create(ctx context.Context, fields models.Fields) (*T, error) {
	entity := new(T)
	if _, err := MergeFields(ctx, s.schema, entity, fields); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(entity).Error; err != nil {
		return nil, err
	}
	return entity, nil
}

// Update never changes the primary key; primary key fields are ignored.
func (s *GormStore[T]) Update(ctx context.Context, entity *T, fields models.Fields) error {
	writable := make(models.Fields, len(fields))
	for name, value := range fields {
		if f := s.schema.LookUpField(name); f != nil && f.PrimaryKey {
			continue
		}
		writable[name] = value
	}

	cols, err := MergeFields(ctx, s.schema, entity, writable)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(entity).Omit(clause.Associations).Updates(cols).Error
}

func (s *GormStore[T]) Delete(ctx context.Context, entities []*T) error {
	if len(entities) == 0 {
		return nil
	}

	pk := s.schema.PrioritizedPrimaryField
	ids := make([]any, 0, len(entities))
	for _, e := range entities {
		id, zero := pk.ValueOf(ctx, reflect.ValueOf(e))
		if zero {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).
		Where(fmt.Sprintf("%s IN ?", pk.DBName), ids).
		Delete(new(T)).Error
}

// FieldSizes returns the maximum width of every sized string column.
func (s *GormStore[T]) FieldSizes() map[string]int {
	sizes := make(map[string]int)
	for _, f := range s.schema.Fields {
		if f.DBName != "" && f.DataType == schema.String && f.Size > 0 {
			sizes[f.DBName] = f.Size
		}
	}
	return sizes
}

// MergeFields assigns fields onto entity field by field and returns the
// assignments keyed by column name.
func MergeFields(ctx context.Context, sch *schema.Schema, entity any, fields models.Fields) (map[string]any, error) {
	rv := reflect.ValueOf(entity)
	cols := make(map[string]any, len(fields))
	for name, value := range fields {
		f := sch.LookUpField(name)
		if f == nil || f.DBName == "" {
			return nil, fmt.Errorf("%s has no field %q", sch.Name, name)
		}
		if err := f.Set(ctx, rv, value); err != nil {
			return nil, fmt.Errorf("set %s.%s: %w", sch.Name, name, err)
		}
		cols[f.DBName] = value
	}
	return cols, nil
}

// TruncateFields cuts string values to the width of their column. Values
// without a known width are kept as is.
func TruncateFields(fields models.Fields, sizes map[string]int) models.Fields {
	out := make(models.Fields, len(fields))
	for name, value := range fields {
		out[name] = value
		s, ok := value.(string)
		if !ok {
			continue
		}
		size, ok := sizes[name]
		if !ok || utf8.RuneCountInString(s) <= size {
			continue
		}
		out[name] = string([]rune(s)[:size])
	}
	return out
}

func columns(sch *schema.Schema, fields models.Fields) (map[string]any, error) {
	cond := make(map[string]any, len(fields))
	for name, value := range fields {
		f := sch.LookUpField(name)
		if f == nil || f.DBName == "" {
			return nil, fmt.Errorf("%s has no field %q", sch.Name, name)
		}
		cond[f.DBName] = value
	}
	return cond, nil
}
