package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/admitpath/admitpath/internal/model"
)

// HTTPFetcher pulls a college's deadline feed: a JSON object mapping round
// names to RFC 3339 dates at the college's configured deadlines URL.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher builds a fetcher with its own client; the per-request
// timeout comes from the caller's context.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

// FetchDeadlines implements DeadlineFetcher.
func (f *HTTPFetcher) FetchDeadlines(ctx context.Context, c *model.College) (model.CollegeDeadlines, error) {
	if c.DeadlinesURL == "" {
		return nil, fmt.Errorf("college %d has no deadlines url: %w", c.CollegeID, model.ErrNotFound)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DeadlinesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.DeadlinesURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("fetch %s: %w", c.DeadlinesURL, model.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", c.DeadlinesURL, resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode deadline feed: %w", err)
	}
	out := make(model.CollegeDeadlines, len(raw))
	for round, date := range raw {
		ts, err := time.Parse(time.RFC3339, date)
		if err != nil {
			// Date-only feeds are common.
			ts, err = time.Parse("2006-01-02", date)
			if err != nil {
				return nil, fmt.Errorf("deadline %q: bad date %q: %w", round, date, err)
			}
		}
		out[model.DeadlineType(round)] = ts.UTC()
	}
	return out, nil
}
