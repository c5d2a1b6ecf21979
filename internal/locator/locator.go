// Package locator finds an actionable target on a paginated listing. Pages
// are fetched lazily and sequentially. The browser session is single and
// stateful, so there is no parallel fetch and no ranking: first match wins.
package locator

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNotFound means no actionable candidate exists within the page budget.
// It is a business outcome, not a retryable fault: rescanning the same
// pages with the same budget cannot produce a different answer.
var ErrNotFound = errors.New("no actionable target found")

// Listing is one page of candidates. Next is the URL of the following page,
// empty when the listing ends early.
type Listing struct {
	Candidates []string
	Next       string
}

// Source fetches listing pages and judges candidates. Implemented by the
// browser driver; faked in tests.
type Source interface {
	// FetchListing loads the listing page at url.
	FetchListing(ctx context.Context, url string) (Listing, error)
	// IsActionable reports whether the candidate accepts the intended
	// action (an open comment form, in practice).
	IsActionable(ctx context.Context, candidate string) (bool, error)
}

// Locator scans a Source within a page budget.
type Locator struct {
	src Source
	log *zap.Logger
}

// New builds a Locator. A nil logger is replaced with a no-op one.
func New(src Source, log *zap.Logger) *Locator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locator{src: src, log: log}
}

// Locate scans up to pageBudget pages starting at startURL and returns the
// first actionable candidate. Fetching stops the instant a match is found.
// Exhausting the budget (or running out of pages) returns ErrNotFound.
func (l *Locator) Locate(ctx context.Context, startURL string, pageBudget int) (string, error) {
	if pageBudget <= 0 {
		pageBudget = 1
	}
	url := startURL
	for page := 1; page <= pageBudget; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		listing, err := l.src.FetchListing(ctx, url)
		if err != nil {
			return "", err
		}
		l.log.Debug("scanned listing page",
			zap.Int("page", page),
			zap.Int("candidates", len(listing.Candidates)))

		for _, candidate := range listing.Candidates {
			ok, err := l.src.IsActionable(ctx, candidate)
			if err != nil {
				return "", err
			}
			if ok {
				l.log.Debug("actionable target found",
					zap.Int("page", page), zap.String("target", candidate))
				return candidate, nil
			}
		}

		if listing.Next == "" {
			break
		}
		url = listing.Next
	}
	return "", ErrNotFound
}
