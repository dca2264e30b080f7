package github

import "context"

// FetchPage returns one page of items starting at cursor, plus the cursor
// for the following page. An empty returned cursor ends the listing.
type FetchPage[T any] func(ctx context.Context, cursor string) (items []T, next string, err error)

// Sequence is a lazy, finite, single-pass view over a paginated listing.
// It is bound to one logical call chain and cannot be restarted. When a
// limit is set, iteration halts at the cap and the continuation cursor is
// discarded, bounding upstream call volume regardless of remote size.
//
// Sequence is not safe for concurrent use; one consumer drains it.
type Sequence[T any] struct {
	fetch   FetchPage[T]
	buf     []T
	cursor  string
	started bool
	done    bool
	limit   int
	yielded int
}

// NewSequence creates a sequence over fetch, capped at limit items.
// A limit of zero means unbounded (the listing's own end terminates it).
func NewSequence[T any](fetch FetchPage[T], limit int) *Sequence[T] {
	return &Sequence[T]{fetch: fetch, limit: limit}
}

// Next yields the following item. ok is false when the sequence is
// exhausted; a non-nil error ends the sequence permanently.
func (s *Sequence[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	var zero T
	if s.done {
		return zero, false, nil
	}
	if s.limit > 0 && s.yielded >= s.limit {
		// Cap reached: drop the continuation so no further page is
		// ever fetched for this sequence.
		s.cursor = ""
		s.done = true
		return zero, false, nil
	}

	for len(s.buf) == 0 {
		if s.started && s.cursor == "" {
			s.done = true
			return zero, false, nil
		}
		items, next, err := s.fetch(ctx, s.cursor)
		if err != nil {
			s.done = true
			return zero, false, err
		}
		s.started = true
		s.cursor = next
		s.buf = items
		if len(s.buf) == 0 && s.cursor == "" {
			s.done = true
			return zero, false, nil
		}
	}

	item = s.buf[0]
	s.buf = s.buf[1:]
	s.yielded++
	return item, true, nil
}

// Collect drains the sequence into a slice.
func Collect[T any](ctx context.Context, s *Sequence[T]) ([]T, error) {
	var out []T
	for {
		item, ok, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, item)
	}
}
