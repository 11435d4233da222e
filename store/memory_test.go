package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/JerryLinyx/feedrefresh/models"
)

// memoryStore is an EntityStore kept in a slice. It does not enforce unique
// keys, so tests can seed the duplicates a real database would reject.
type memoryStore[T any] struct {
	sch     *schema.Schema
	rows    []*T
	nextID  uint
	deletes int
	updates int

	failFind error
}

func newMemoryStore[T any](t *testing.T) *memoryStore[T] {
	t.Helper()
	sch, err := schema.Parse(new(T), &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return &memoryStore[T]{sch: sch}
}

func (m *memoryStore[T]) FindMatching(ctx context.Context, fields models.Fields) ([]*T, error) {
	if m.failFind != nil {
		return nil, m.failFind
	}
	var found []*T
	for _, row := range m.rows {
		if m.matches(ctx, row, fields) {
			found = append(found, row)
		}
	}
	return found, nil
}

func (m *memoryStore[T]) Create(ctx context.Context, fields models.Fields) (*T, error) {
	entity := new(T)
	if _, err := MergeFields(ctx, m.sch, entity, fields); err != nil {
		return nil, err
	}
	m.nextID++
	if err := m.sch.PrioritizedPrimaryField.Set(ctx, reflect.ValueOf(entity), m.nextID); err != nil {
		return nil, err
	}
	m.rows = append(m.rows, entity)
	return entity, nil
}

func (m *memoryStore[T]) Update(ctx context.Context, entity *T, fields models.Fields) error {
	m.updates++
	_, err := MergeFields(ctx, m.sch, entity, fields)
	return err
}

func (m *memoryStore[T]) Delete(_ context.Context, entities []*T) error {
	m.deletes += len(entities)
	kept := m.rows[:0]
	for _, row := range m.rows {
		doomed := false
		for _, e := range entities {
			if e == row {
				doomed = true
				break
			}
		}
		if !doomed {
			kept = append(kept, row)
		}
	}
	m.rows = kept
	return nil
}

func (m *memoryStore[T]) matches(ctx context.Context, row *T, fields models.Fields) bool {
	rv := reflect.ValueOf(row)
	for name, want := range fields {
		f := m.sch.LookUpField(name)
		if f == nil {
			return false
		}
		got, _ := f.ValueOf(ctx, rv)
		if gt, ok := got.(time.Time); ok {
			wt, ok := want.(time.Time)
			if !ok || !gt.Equal(wt) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

var errStoreDown = errors.New("store down")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Feed{},
		&models.Category{},
		&models.Post{},
		&models.Enclosure{},
	))
	return db
}
