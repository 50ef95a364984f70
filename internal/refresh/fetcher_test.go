package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admitpath/admitpath/internal/model"
)

func TestFetchDeadlinesParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("User-Agent"), "admitpath")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"regular": "2027-01-05T23:59:00-05:00",
			"early_action": "2026-11-01"
		}`))
	}))
	defer srv.Close()

	out, err := NewHTTPFetcher("admitpath/1.0").FetchDeadlines(context.Background(),
		&model.College{CollegeID: 10, DeadlinesURL: srv.URL})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, time.Date(2027, 1, 6, 4, 59, 0, 0, time.UTC), out[model.DeadlineRegular])
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), out[model.DeadlineEarlyAction])
}

func TestFetchDeadlinesNoURL(t *testing.T) {
	_, err := NewHTTPFetcher("admitpath/1.0").FetchDeadlines(context.Background(), &model.College{CollegeID: 10})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestFetchDeadlinesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher("admitpath/1.0").FetchDeadlines(context.Background(),
		&model.College{CollegeID: 10, DeadlinesURL: srv.URL})
	assert.True(t, errors.Is(err, model.ErrRateLimited))
}

func TestFetchDeadlinesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher("admitpath/1.0").FetchDeadlines(context.Background(),
		&model.College{CollegeID: 10, DeadlinesURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestFetchDeadlinesBadDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"regular": "next fall"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher("admitpath/1.0").FetchDeadlines(context.Background(),
		&model.College{CollegeID: 10, DeadlinesURL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad date")
}
