package github

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakePager serves canned pages and counts fetches.
type fakePager struct {
	pages   map[string]fakePage
	fetches int
}

type fakePage struct {
	items []int
	next  string
}

func (p *fakePager) fetch(_ context.Context, cursor string) ([]int, string, error) {
	p.fetches++
	page, ok := p.pages[cursor]
	if !ok {
		return nil, "", fmt.Errorf("no page for cursor %q", cursor)
	}
	return page.items, page.next, nil
}

func threePagePager() *fakePager {
	return &fakePager{pages: map[string]fakePage{
		"":   {items: []int{1, 2, 3}, next: "p2"},
		"p2": {items: []int{4, 5, 6}, next: "p3"},
		"p3": {items: []int{7}, next: ""},
	}}
}

func TestSequence_FiniteAndOrdered(t *testing.T) {
	pager := threePagePager()
	seq := NewSequence(pager.fetch, 0)

	got, err := Collect(context.Background(), seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []int{1, 2, 3, 4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if pager.fetches != 3 {
		t.Fatalf("expected 3 fetches, got %d", pager.fetches)
	}

	// Exhausted sequence stays exhausted; no further fetch.
	if _, ok, err := seq.Next(context.Background()); ok || err != nil {
		t.Fatalf("exhausted sequence yielded again: ok=%v err=%v", ok, err)
	}
	if pager.fetches != 3 {
		t.Fatalf("exhausted sequence fetched again: %d fetches", pager.fetches)
	}
}

func TestSequence_CapDiscardsContinuation(t *testing.T) {
	pager := threePagePager()
	seq := NewSequence(pager.fetch, 4)

	got, err := Collect(context.Background(), seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 items, got %d", len(got))
	}
	// Items 1-3 came from page one, item 4 forced page two; page three
	// must never be fetched.
	if pager.fetches != 2 {
		t.Fatalf("expected 2 fetches, got %d", pager.fetches)
	}
	if seq.cursor != "" {
		t.Fatalf("continuation cursor retained after cap: %q", seq.cursor)
	}
}

func TestSequence_ReplayIsIdentical(t *testing.T) {
	first, err := Collect(context.Background(), NewSequence(threePagePager().fetch, 0))
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := Collect(context.Background(), NewSequence(threePagePager().fetch, 0))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("replay length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replay diverges at %d: %d vs %d", i, first[i], second[i])
		}
	}
}

func TestSequence_ErrorEndsSequence(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	seq := NewSequence(func(_ context.Context, cursor string) ([]int, string, error) {
		calls++
		if cursor == "" {
			return []int{1}, "p2", nil
		}
		return nil, "", boom
	}, 0)

	item, ok, err := seq.Next(context.Background())
	if err != nil || !ok || item != 1 {
		t.Fatalf("first item: item=%d ok=%v err=%v", item, ok, err)
	}
	if _, _, err := seq.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	// A failed sequence never fetches again.
	if _, ok, err := seq.Next(context.Background()); ok || err != nil {
		t.Fatalf("failed sequence resumed: ok=%v err=%v", ok, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls)
	}
}

func TestSequence_EmptyListing(t *testing.T) {
	seq := NewSequence(func(_ context.Context, _ string) ([]int, string, error) {
		return nil, "", nil
	}, 0)
	got, err := Collect(context.Background(), seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d items", len(got))
	}
}
