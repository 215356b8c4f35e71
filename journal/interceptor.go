package journal

import (
	"context"
	"sync/atomic"

	"github.com/dogmatiq/logkit/logstore"
)

// Interceptor defines functions that are invoked around journal operations.
//
// It is primarily intended for injecting faults, such as lost entries or
// denied access, when testing code that reads from journals.
type Interceptor struct {
	beforeOpen   atomic.Pointer[func(logstore.LogID) error]
	beforeRead   atomic.Pointer[func(logstore.LogID, logstore.LSN) error]
	beforeAppend atomic.Pointer[func(logstore.LogID, logstore.LSN, Entry) error]
	afterAppend  atomic.Pointer[func(logstore.LogID, logstore.LSN, Entry) error]
}

// BeforeOpen sets the function that is invoked before a [Journal] is opened.
func (i *Interceptor) BeforeOpen(fn func(id logstore.LogID) error) {
	store(&i.beforeOpen, fn, fn == nil)
}

// BeforeRead sets the function that is invoked before an entry is returned
// by [Journal.Get] or passed to the function given to [Journal.Range].
//
// If fn returns an error, the read fails with that error.
func (i *Interceptor) BeforeRead(fn func(id logstore.LogID, n logstore.LSN) error) {
	store(&i.beforeRead, fn, fn == nil)
}

// BeforeAppend sets the function that is invoked before an entry is appended to
// the [Journal].
func (i *Interceptor) BeforeAppend(fn func(id logstore.LogID, n logstore.LSN, e Entry) error) {
	store(&i.beforeAppend, fn, fn == nil)
}

// AfterAppend sets the function that is invoked after an entry is appended to
// the [Journal].
func (i *Interceptor) AfterAppend(fn func(id logstore.LogID, n logstore.LSN, e Entry) error) {
	store(&i.afterAppend, fn, fn == nil)
}

// WithInterceptor returns a [Store] that invokes the functions defined by the
// given [Interceptor] when performing operations on s.
func WithInterceptor(s Store, in *Interceptor) Store {
	if in == nil {
		return s
	}

	return &interceptedStore{
		Store:       s,
		Interceptor: in,
	}
}

func store[F any](dst *atomic.Pointer[F], fn F, isNil bool) {
	if isNil {
		dst.Store(nil)
		return
	}
	dst.Store(&fn)
}

func load[F any](src *atomic.Pointer[F]) (F, bool) {
	if fn := src.Load(); fn != nil {
		return *fn, true
	}
	var zero F
	return zero, false
}

type interceptedStore struct {
	Store
	Interceptor *Interceptor
}

func (s *interceptedStore) Open(ctx context.Context, id logstore.LogID) (Journal, error) {
	if fn, ok := load(&s.Interceptor.beforeOpen); ok {
		if err := fn(id); err != nil {
			return nil, err
		}
	}

	next, err := s.Store.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	return &interceptedJournal{
		Journal:     next,
		Interceptor: s.Interceptor,
	}, nil
}

type interceptedJournal struct {
	Journal
	Interceptor *Interceptor
}

func (j *interceptedJournal) Get(ctx context.Context, n logstore.LSN) (Entry, error) {
	if fn, ok := load(&j.Interceptor.beforeRead); ok {
		if err := fn(j.LogID(), n); err != nil {
			return Entry{}, err
		}
	}

	return j.Journal.Get(ctx, n)
}

func (j *interceptedJournal) Range(ctx context.Context, n logstore.LSN, fn RangeFunc) error {
	return j.Journal.Range(
		ctx,
		n,
		func(ctx context.Context, n logstore.LSN, e Entry) (bool, error) {
			if before, ok := load(&j.Interceptor.beforeRead); ok {
				if err := before(j.LogID(), n); err != nil {
					return false, err
				}
			}
			return fn(ctx, n, e)
		},
	)
}

func (j *interceptedJournal) Append(ctx context.Context, n logstore.LSN, e Entry) error {
	if fn, ok := load(&j.Interceptor.beforeAppend); ok {
		if err := fn(j.LogID(), n, e); err != nil {
			return err
		}
	}

	if err := j.Journal.Append(ctx, n, e); err != nil {
		return err
	}

	if fn, ok := load(&j.Interceptor.afterAppend); ok {
		if err := fn(j.LogID(), n, e); err != nil {
			return err
		}
	}

	return nil
}
