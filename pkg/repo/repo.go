// Package repo provides read-only repositories over the passport reference
// data (actors and locations). Reference data is only ever created by merge
// inside lifecycle transactions, so nothing here writes.
package repo

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
)

// Reader is a read-only keyed collection.
type Reader[T any, ID cmp.Ordered] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
}

// Page size bounds for List.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ListOpts controls pagination and filtering for List operations. Filter
// matches properties by equality.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}

var propKey = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// normalize clamps the page bounds and rejects filter keys that are not
// plain property names.
func (o ListOpts) normalize() (ListOpts, error) {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	for k := range o.Filter {
		if !propKey.MatchString(k) {
			return o, fmt.Errorf("repo: invalid filter key %q", k)
		}
	}
	return o, nil
}

// filterKeys returns the filter keys in a stable order.
func (o ListOpts) filterKeys() []string {
	keys := make([]string, 0, len(o.Filter))
	for k := range o.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SliceRepo serves a Reader from a loader returning the full collection,
// which suits the in-memory store.
type SliceRepo[T any, ID cmp.Ordered] struct {
	load     func(ctx context.Context) ([]T, error)
	id       func(T) ID
	props    func(T) map[string]any
	notFound func(ID) error
}

// NewSliceRepo creates a SliceRepo.
func NewSliceRepo[T any, ID cmp.Ordered](
	load func(ctx context.Context) ([]T, error),
	id func(T) ID,
	props func(T) map[string]any,
	notFound func(ID) error,
) *SliceRepo[T, ID] {
	return &SliceRepo[T, ID]{load: load, id: id, props: props, notFound: notFound}
}

var _ Reader[any, string] = (*SliceRepo[any, string])(nil)

func (r *SliceRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	items, err := r.load(ctx)
	if err != nil {
		return zero, err
	}
	for _, it := range items {
		if r.id(it) == id {
			return it, nil
		}
	}
	return zero, r.notFound(id)
}

func (r *SliceRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	items, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := opts.filterKeys()
	matched := make([]T, 0, len(items))
	for _, it := range items {
		if r.matches(it, opts.Filter, keys) {
			matched = append(matched, it)
		}
	}
	slices.SortFunc(matched, func(a, b T) int { return cmp.Compare(r.id(a), r.id(b)) })
	if opts.Offset >= len(matched) {
		return []T{}, nil
	}
	end := min(opts.Offset+opts.Limit, len(matched))
	return matched[opts.Offset:end], nil
}

func (r *SliceRepo[T, ID]) matches(it T, filter map[string]any, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	props := r.props(it)
	for _, k := range keys {
		if props[k] != filter[k] {
			return false
		}
	}
	return true
}
