// Package store persists feeds, posts and their metadata and implements the
// find-or-create/merge logic used when importing them.
package store

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/JerryLinyx/feedrefresh/metrics"
	"github.com/JerryLinyx/feedrefresh/models"
)

// EntityStore is the capability the generic upsert needs from a store of T.
type EntityStore[T any] interface {
	// FindMatching returns every entity whose columns equal fields, ordered
	// by primary key.
	FindMatching(ctx context.Context, fields models.Fields) ([]*T, error)
	Create(ctx context.Context, fields models.Fields) (*T, error)
	// Update overwrites the given fields on entity and persists it.
	Update(ctx context.Context, entity *T, fields models.Fields) error
	Delete(ctx context.Context, entities []*T) error
}

// MultipleMatchesError is returned when a lookup expected to find at most one
// entity found several.
type MultipleMatchesError[T any] struct {
	Match   models.Fields
	Matches []*T
}

func (e *MultipleMatchesError[T]) Error() string {
	return fmt.Sprintf("%d entities match %v", len(e.Matches), e.Match)
}

// FindOrCreate returns the entity matching match, creating it from
// match and defaults when there is none.
func FindOrCreate[T any](ctx context.Context, s EntityStore[T], match, defaults models.Fields) (*T, bool, error) {
	found, err := s.FindMatching(ctx, match)
	if err != nil {
		return nil, false, fmt.Errorf("find matching: %w", err)
	}

	switch len(found) {
	case 0:
		entity, err := s.Create(ctx, defaults.Merge(match))
		if err != nil {
			return nil, false, fmt.Errorf("create: %w", err)
		}
		return entity, true, nil
	case 1:
		return found[0], false, nil
	default:
		return nil, false, &MultipleMatchesError[T]{Match: match, Matches: found}
	}
}

// Upsert finds or creates the entity matching match and merges defaults onto
// an existing one.
//
// Several matches mean the uniqueness of match was violated earlier. The
// matches are deleted and the lookup retried once.
func Upsert[T any](ctx context.Context, s EntityStore[T], match, defaults models.Fields) (*T, bool, error) {
	entity, created, err := FindOrCreate(ctx, s, match, defaults)

	var dup *MultipleMatchesError[T]
	if errors.As(err, &dup) {
		log.WithFields(log.Fields{
			"match": match,
			"count": len(dup.Matches),
		}).Warn("Duplicate integrity anomaly, deleting matches")
		metrics.DuplicateAnomalies.Inc()

		if err := s.Delete(ctx, dup.Matches); err != nil {
			return nil, false, fmt.Errorf("delete duplicates: %w", err)
		}
		entity, created, err = FindOrCreate(ctx, s, match, defaults)
	}
	if err != nil {
		return nil, false, err
	}

	if !created {
		if err := s.Update(ctx, entity, defaults.Merge(match)); err != nil {
			return nil, false, fmt.Errorf("update: %w", err)
		}
	}

	return entity, created, nil
}
