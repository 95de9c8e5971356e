package api

import "context"

// Page is one page of a cursor-paginated connection
type Page[T any] struct {
	Nodes       []T
	EndCursor   string
	HasNextPage bool
}

// Walk fetches pages until the connection is exhausted or consume asks to
// stop. The cursor only advances after consume succeeds, so a failed page is
// never skipped.
func Walk[T any](
	ctx context.Context,
	fetch func(ctx context.Context, cursor string) (Page[T], error),
	consume func(ctx context.Context, nodes []T) (bool, error),
) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return err
		}
		more, err := consume(ctx, page.Nodes)
		if err != nil {
			return err
		}
		if !more || !page.HasNextPage || page.EndCursor == "" {
			return nil
		}
		cursor = page.EndCursor
	}
}
