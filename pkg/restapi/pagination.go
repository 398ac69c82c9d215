package restapi

import (
	"context"
)

// PageFetcher fetches the page at uri.
type PageFetcher[T any] func(ctx context.Context, uri string) (Page[T], error)

// Unfold fetches uri and follows continuation links, returning every item in
// page order. It stops at the first empty page or the first page without a
// continuation. Any error aborts the walk and no items are returned.
func Unfold[T any](ctx context.Context, fetch PageFetcher[T], uri string) ([]T, error) {
	iterator := NewPageIterator(fetch, uri)

	var all []T

	for {
		items, err := iterator.Next(ctx)
		if err != nil {
			return nil, err
		}

		if len(items) == 0 {
			return all, nil
		}

		all = append(all, items...)
	}
}

// PageIterator walks a paginated collection one page at a time.
//
// The iterator is not safe for concurrent use.
type PageIterator[T any] struct {
	fetch   PageFetcher[T]
	nextURI string
	done    bool
}

// NewPageIterator starts a walk at uri.
func NewPageIterator[T any](fetch PageFetcher[T], uri string) *PageIterator[T] {
	return &PageIterator[T]{fetch: fetch, nextURI: uri}
}

// Next fetches the next page. It returns nil, nil once the walk is over.
func (it *PageIterator[T]) Next(ctx context.Context) ([]T, error) {
	if it.done || it.nextURI == "" {
		return nil, nil
	}

	page, err := it.fetch(ctx, it.nextURI)
	if err != nil {
		it.done = true

		return nil, err
	}

	it.nextURI = page.Next
	if it.nextURI == "" || len(page.Items) == 0 {
		it.done = true
	}

	return page.Items, nil
}

// Done reports whether the walk has finished.
func (it *PageIterator[T]) Done() bool {
	return it.done || it.nextURI == ""
}
