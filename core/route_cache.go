package core

import (
	"context"
	"net/url"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const routeResultCacheKeyPrefix = "go-mailbox::route_result::v1"

// RouteResultCacheKey returns go-mailbox::route_result::v1::<key> with the
// routing key URL-path escaped.
func RouteResultCacheKey(key string) string {
	return routeResultCacheKeyPrefix + "::" + url.PathEscape(key)
}

type cachedHandler struct {
	key   string
	cache repositorycache.CacheService
	next  Handler
}

func (h *cachedHandler) Handle(ctx context.Context) (Result, error) {
	result, err := repositorycache.GetOrFetch(ctx, h.cache, RouteResultCacheKey(h.key), func(ctx context.Context) (Result, error) {
		fetched, fetchErr := h.next.Handle(ctx)
		if fetchErr != nil {
			return Result{}, fetchErr
		}
		return cloneResult(fetched), nil
	})
	if err != nil {
		return Result{}, err
	}
	return cloneResult(result), nil
}

// InvalidateRoute drops the cached result for key.
func (r *Router) InvalidateRoute(ctx context.Context, key string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, RouteResultCacheKey(key))
}

func cloneResult(result Result) Result {
	cloned := result
	if result.Data != nil {
		cloned.Data = append([]byte(nil), result.Data...)
	}
	return cloned
}

var _ Handler = (*cachedHandler)(nil)
