package expansion

import (
	"context"
	"github.com/icinga/icinga-calendar/internal/calendar"
	"github.com/icinga/icinga-calendar/internal/contracts"
	"github.com/icinga/icingadb/pkg/types"
	"golang.org/x/exp/slices"
	"sync"
	"time"
)

type occurrenceKey struct {
	masterEventID int64
	originalStart int64
}

type memoryState struct {
	series      map[int64]calendar.MasterEvent
	rules       map[int64]calendar.Recurrence
	exceptions  map[occurrenceKey]calendar.Exception
	occurrences map[occurrenceKey]calendar.Occurrence
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		series:      make(map[int64]calendar.MasterEvent, len(s.series)),
		rules:       make(map[int64]calendar.Recurrence, len(s.rules)),
		exceptions:  make(map[occurrenceKey]calendar.Exception, len(s.exceptions)),
		occurrences: make(map[occurrenceKey]calendar.Occurrence, len(s.occurrences)),
	}

	for k, v := range s.series {
		c.series[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.exceptions {
		c.exceptions[k] = v
	}
	for k, v := range s.occurrences {
		c.occurrences[k] = v
	}

	return c
}

// memoryStore is an in-memory contracts.Store with transactions working on a copy of its state.
type memoryStore struct {
	mu    sync.Mutex
	state *memoryState

	// Failure injection, all optional.
	dueErr    error
	rulesErr  map[int64]error
	insertErr func(o *calendar.Occurrence) error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		state: &memoryState{
			series:      map[int64]calendar.MasterEvent{},
			rules:       map[int64]calendar.Recurrence{},
			exceptions:  map[occurrenceKey]calendar.Exception{},
			occurrences: map[occurrenceKey]calendar.Occurrence{},
		},
		rulesErr: map[int64]error{},
	}
}

func (s *memoryStore) addSeries(series calendar.MasterEvent, rules ...calendar.Recurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.series[series.ID] = series
	for _, r := range rules {
		r.MasterEventID = series.ID
		s.state.rules[r.ID] = r
	}
}

func (s *memoryStore) addException(e calendar.Exception) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.exceptions[occurrenceKey{e.MasterEventID, e.OriginalStart.Time().UnixMilli()}] = e
}

func (s *memoryStore) setRule(r calendar.Recurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.rules[r.ID] = r
}

func (s *memoryStore) watermark(id int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.state.series[id]
	return series.Watermark()
}

func (s *memoryStore) rule(id int64) calendar.Recurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.rules[id]
}

// occurrencesOf returns the occurrences of a series ordered by their original start.
func (s *memoryStore) occurrencesOf(id int64) []calendar.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	var occurrences []calendar.Occurrence
	for k, o := range s.state.occurrences {
		if k.masterEventID == id {
			occurrences = append(occurrences, o)
		}
	}

	slices.SortFunc(occurrences, func(a, b calendar.Occurrence) bool {
		return a.OriginalStart.Time().Before(b.OriginalStart.Time())
	})

	return occurrences
}

func (s *memoryStore) DueForExpansion(_ context.Context, horizon time.Time) ([]*calendar.MasterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dueErr != nil {
		return nil, s.dueErr
	}

	var due []*calendar.MasterEvent
	for _, series := range s.state.series {
		series := series
		if w := series.Watermark(); w.IsZero() || w.Before(horizon) {
			due = append(due, &series)
		}
	}

	slices.SortFunc(due, func(a, b *calendar.MasterEvent) bool {
		return a.ID < b.ID
	})

	return due, nil
}

func (s *memoryStore) Series(_ context.Context, id int64) (*calendar.MasterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.state.series[id]
	if !ok {
		return nil, calendar.ErrSeriesNotFound
	}

	return &series, nil
}

func (s *memoryStore) ResetSeries(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.state.series[id]
	if !ok {
		return calendar.ErrSeriesNotFound
	}

	series.RecurrencesGeneratedUntil = types.UnixMilli{}
	s.state.series[id] = series

	for k := range s.state.occurrences {
		if k.masterEventID == id {
			delete(s.state.occurrences, k)
		}
	}

	for k, r := range s.state.rules {
		if r.MasterEventID == id {
			r.CursorStep, r.CursorSlot, r.CursorCount = types.Int{}, types.Int{}, types.Int{}
			r.CursorLast, r.CursorExhausted = types.UnixMilli{}, false
			s.state.rules[k] = r
		}
	}

	return nil
}

func (s *memoryStore) RunInTx(ctx context.Context, f func(context.Context, contracts.Tx) error) error {
	s.mu.Lock()
	tx := &memoryTx{store: s, state: s.state.clone()}
	s.mu.Unlock()

	if err := f(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = tx.state

	return nil
}

type memoryTx struct {
	store *memoryStore
	state *memoryState
}

func (tx *memoryTx) Rules(_ context.Context, masterEventID int64) ([]*calendar.Recurrence, error) {
	if err := tx.store.rulesErr[masterEventID]; err != nil {
		return nil, err
	}

	var rules []*calendar.Recurrence
	for _, r := range tx.state.rules {
		r := r
		if r.MasterEventID == masterEventID {
			rules = append(rules, &r)
		}
	}

	return rules, nil
}

func (tx *memoryTx) ExceptionByOriginalStart(
	_ context.Context, masterEventID int64, originalStart time.Time,
) (*calendar.Exception, error) {
	e, ok := tx.state.exceptions[occurrenceKey{masterEventID, originalStart.UnixMilli()}]
	if !ok {
		return nil, nil
	}

	return &e, nil
}

func (tx *memoryTx) InsertOccurrence(_ context.Context, o *calendar.Occurrence) (bool, error) {
	if tx.store.insertErr != nil {
		if err := tx.store.insertErr(o); err != nil {
			return false, err
		}
	}

	k := occurrenceKey{o.MasterEventID, o.OriginalStart.Time().UnixMilli()}
	if _, ok := tx.state.occurrences[k]; ok {
		return false, nil
	}

	tx.state.occurrences[k] = *o

	return true, nil
}

func (tx *memoryTx) UpdateWatermark(_ context.Context, masterEventID int64, watermark time.Time) error {
	series := tx.state.series[masterEventID]
	series.RecurrencesGeneratedUntil = types.UnixMilli(watermark)
	tx.state.series[masterEventID] = series

	return nil
}

func (tx *memoryTx) UpdateCursor(_ context.Context, c *calendar.RecurrenceCursor) error {
	r := tx.state.rules[c.RecurrenceID]
	r.CursorStep, r.CursorSlot, r.CursorCount = c.CursorStep, c.CursorSlot, c.CursorCount
	r.CursorLast, r.CursorExhausted = c.CursorLast, c.CursorExhausted
	tx.state.rules[c.RecurrenceID] = r

	return nil
}

// Assert interface compliance.
var (
	_ contracts.Store = (*memoryStore)(nil)
	_ contracts.Tx    = (*memoryTx)(nil)
)
