// Package pagination provides sequential cursor-based collection for APS
// list endpoints.
//
// APS list endpoints return one page of items plus an opaque continuation
// token (Design Automation `paginationToken`, OSS `next`). The collector
// requests page N+1 only after page N's token is known and passes the token
// back verbatim.
//
// Example usage:
//
//	ids, err := pagination.CollectAll(ctx, func(ctx context.Context, token string) (pagination.Page[string], error) {
//		return da.ActivitiesPage(ctx, accessToken, token)
//	}, pagination.WithMaxPages(200))
//
// The collector:
//   - Preserves server order across pages (no dedup, no sort)
//   - Stops when a page carries no token
//   - Aborts on the first failed page and discards partial results
//   - Guards against endless token chains with a page cap and loop detection
//   - Honors context cancellation and deadlines (reported as client.ErrTimeout)
package pagination
