package platform

import (
	"context"
	"fmt"
)

// PageFunc fetches one page starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// Paginate walks pages of pageSize from offset 0, calling visit for each
// non-empty page. It stops after an empty or short page; the platform's
// total count is not trusted. Pages are fetched strictly in sequence.
func Paginate[T any](ctx context.Context, pageSize int, fetch PageFunc[T], visit func(page []T) error) error {
	if pageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := visit(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// CollectAll paginates and returns every item.
func CollectAll[T any](ctx context.Context, pageSize int, fetch PageFunc[T]) ([]T, error) {
	var all []T
	err := Paginate(ctx, pageSize, fetch, func(page []T) error {
		all = append(all, page...)
		return nil
	})
	return all, err
}
