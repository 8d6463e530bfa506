// Package cache reconciles locally cached account state with mutation outcomes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// Repository is the persistence the reconciler writes through.
type Repository interface {
	Get(key string) (*models.CacheEntry, error)
	Put(key string, value json.RawMessage) (*models.CacheEntry, error)
	Restore(key string, entry *models.CacheEntry) error
	MarkStale(keys ...string) error
	MarkStalePrefix(prefix string) error
	List() ([]models.CacheEntry, error)
	Clear() (int64, error)
}

// Reconciler applies [Rule]s to a [Repository]. It implements [mutation.Reconciler].
//
// One writer per key at a time; when writes race the last one wins.
type Reconciler struct {
	repo   Repository
	rules  map[string]Rule
	locks  sync.Map
	logger *log.Logger
}

// NewReconciler creates a reconciler. Nil rules select [DefaultRules].
func NewReconciler(repo Repository, rules map[string]Rule, logger *log.Logger) *Reconciler {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reconciler{repo: repo, rules: rules, logger: logger}
}

func (r *Reconciler) lock(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []*sync.Mutex
	for _, key := range sorted {
		v, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		held = append(held, mu)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

type snapshot struct {
	key      string
	previous *models.CacheEntry
	sequence int
}

// Optimistic rewrites the operation's keys and returns an undo restoring their previous entries.
func (r *Reconciler) Optimistic(_ context.Context, m mutation.Mutation) (mutation.Undo, error) {
	rule, ok := r.rules[m.Op]
	if !ok || len(rule.Rewrite) == 0 {
		return nil, nil
	}

	keys := rule.Keys()
	unlock := r.lock(keys)
	defer unlock()

	var snaps []snapshot
	for _, key := range keys {
		previous, err := r.repo.Get(key)
		if err != nil && !errors.Is(err, shared.ErrCacheMiss) {
			return r.undo(snaps), err
		}

		var current json.RawMessage
		if previous != nil {
			current = previous.Value
		}

		next, changed, err := rule.Rewrite[key](m, current)
		if err != nil {
			return r.undo(snaps), fmt.Errorf("optimistic rewrite of %s: %w", key, err)
		}
		if !changed {
			continue
		}

		written, err := r.repo.Put(key, next)
		if err != nil {
			return r.undo(snaps), err
		}
		snaps = append(snaps, snapshot{key: key, previous: previous, sequence: written.Sequence})
		r.logger.Debug("optimistic cache write", "op", m.Op, "key", key)
	}

	return r.undo(snaps), nil
}

// undo restores snapshots whose key has not been written since.
func (r *Reconciler) undo(snaps []snapshot) mutation.Undo {
	if len(snaps) == 0 {
		return nil
	}

	return func(context.Context) error {
		keys := make([]string, len(snaps))
		for i, s := range snaps {
			keys[i] = s.key
		}
		unlock := r.lock(keys)
		defer unlock()

		var errs []error
		for _, s := range snaps {
			current, err := r.repo.Get(s.key)
			if err == nil && current.Sequence != s.sequence {
				r.logger.Debug("skipping rollback of overwritten key", "key", s.key)
				continue
			}
			if err := r.repo.Restore(s.key, s.previous); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Settle stores query results and invalidates keys affected by a mutation.
//
// Failures with an ambiguous server-side outcome (network or server faults) invalidate as well.
func (r *Reconciler) Settle(_ context.Context, o mutation.Outcome) error {
	rule, ok := r.rules[o.Op]
	if !ok {
		return nil
	}

	if !o.Succeeded() {
		switch mutation.KindOf(o.Err) {
		case mutation.NetworkFailure, mutation.TransientServerFault:
			return r.Invalidate(slices.Concat(rule.Invalidate, rule.Keys())...)
		}
		return nil
	}

	if rule.Store != "" {
		value, err := json.Marshal(o.Result)
		if err != nil {
			return fmt.Errorf("failed to encode %s result: %w", o.Op, err)
		}

		unlock := r.lock([]string{rule.Store})
		_, err = r.repo.Put(rule.Store, value)
		unlock()
		if err != nil {
			return err
		}
	}

	return r.Invalidate(rule.Invalidate...)
}

// Invalidate marks keys stale; keys ending in "*" match by prefix.
func (r *Reconciler) Invalidate(keys ...string) error {
	var errs []error
	for _, key := range keys {
		var err error
		if prefix, ok := strings.CutSuffix(key, "*"); ok {
			err = r.repo.MarkStalePrefix(prefix)
		} else {
			unlock := r.lock([]string{key})
			err = r.repo.MarkStale(key)
			unlock()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get decodes the cached value for key into dst and reports whether it is stale.
func (r *Reconciler) Get(key string, dst any) (bool, error) {
	entry, err := r.repo.Get(key)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return entry.Stale, nil
}

// Entries lists every cached entry.
func (r *Reconciler) Entries() ([]models.CacheEntry, error) {
	return r.repo.List()
}

// Clear drops every cached entry.
func (r *Reconciler) Clear() (int64, error) {
	return r.repo.Clear()
}
