// Package pagination maps (query, page-number) pairs onto the upstream's
// opaque, session-bound continuation tokens, letting a stateless client
// page by number through a cursor-only listing.
package pagination

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gallerygate/internal/cache"
	"gallerygate/internal/upstream"
	"gallerygate/pkg/logging"
)

// ErrPageUnreachable means no cached or derivable cursor chain reaches the
// requested page: the client skipped ahead past everything sequentially
// fetched for this query, or the upstream listing simply ends earlier.
// Correctable by paging sequentially from wherever the chain still holds.
var ErrPageUnreachable = errors.New("pagination: page unreachable")

// listingFetcher is the slice of the upstream client the manager needs.
type listingFetcher interface {
	FetchListing(ctx context.Context, query, cursor, cred string) (upstream.ListingPage, error)
}

// Manager resolves page numbers to cursor tokens. Per query the tokens
// form a forward-only chain: page 1 is implicitly resolved with no token,
// page N's token is the "next" cursor of page N-1's listing. Chain entries
// live in the cursor cache tier and inherit its TTL and LRU eviction, so
// an evicted mid-chain entry silently forces sequential paging again.
type Manager struct {
	store   cache.Store
	fetcher listingFetcher
}

// NewManager creates a cursor manager on top of the cursor tier.
func NewManager(store cache.Store, fetcher listingFetcher) *Manager {
	return &Manager{store: store, fetcher: fetcher}
}

// Resolve returns the continuation token that fetches the given page.
// Page 1 always resolves to the empty token without any network call.
// Random access past the known chain fails with ErrPageUnreachable rather
// than guessing tokens.
func (m *Manager) Resolve(ctx context.Context, query string, page int, cred string) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("%w: page %d", ErrPageUnreachable, page)
	}
	if page == 1 {
		return "", nil
	}

	if token, ok, err := m.getToken(ctx, query, page); err == nil && ok {
		return token, nil
	}

	// Derive from page-1: its token must already be known.
	prevToken := ""
	if page-1 > 1 {
		token, ok, err := m.getToken(ctx, query, page-1)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: page %d requested but the chain for %q stops before page %d",
				ErrPageUnreachable, page, query, page-1)
		}
		prevToken = token
	}

	listing, err := m.fetcher.FetchListing(ctx, query, prevToken, cred)
	if err != nil {
		return "", err
	}
	if !listing.HasNext || listing.NextCursor == "" {
		return "", fmt.Errorf("%w: the listing for %q ends before page %d",
			ErrPageUnreachable, query, page)
	}

	m.Observe(ctx, query, page, listing.NextCursor)

	logging.L(ctx).Debug("cursor derived",
		zap.String("query", query),
		zap.Int("page", page),
	)

	return listing.NextCursor, nil
}

// Observe records a token seen in the wild: when a listing fetch for page
// N returns a next cursor, that cursor is page N+1's token and caching it
// here saves the derivation fetch later. The caller passes the page the
// token fetches (N+1), not the page it was seen on.
func (m *Manager) Observe(ctx context.Context, query string, page int, token string) {
	if page < 2 || token == "" {
		return
	}
	if err := m.store.Set(ctx, cache.CursorKey(query, page), []byte(token)); err != nil {
		logging.L(ctx).Warn("cursor cache set failed",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Error(err),
		)
	}
}

func (m *Manager) getToken(ctx context.Context, query string, page int) (string, bool, error) {
	val, ok, err := m.store.Get(ctx, cache.CursorKey(query, page))
	if err != nil {
		// Cache trouble degrades to a miss; the chain rules still apply.
		logging.L(ctx).Warn("cursor cache get failed",
			zap.String("query", query),
			zap.Int("page", page),
			zap.Error(err),
		)
		return "", false, nil
	}
	if !ok {
		return "", false, nil
	}
	return string(val), true, nil
}
