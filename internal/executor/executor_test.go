package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/offlinesync/internal/core/domain"
	"github.com/vietddude/offlinesync/internal/retry"
)

func TestExecute_PostsActionAsJSON(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotAuth string
		gotBody domain.AddContact
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL+"/", time.Second, map[string]string{"Authorization": "Bearer t"})
	ctx := WithIdempotencyKey(context.Background(), "item-1")

	err := e.Execute(ctx, domain.AddContact{ContactID: "c1", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "/actions/add_contact", gotPath)
	assert.Equal(t, "item-1", gotKey)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "Ann", gotBody.Name)
}

func TestExecute_GeneratesIdempotencyKey(t *testing.T) {
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(IdempotencyKeyHeader)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(srv.URL, time.Second, nil)
	require.NoError(t, e.Execute(context.Background(), domain.RemoveContact{ContactID: "c"}))
	assert.Len(t, key, 36)
}

func TestExecute_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		category  retry.Category
	}{
		{http.StatusBadRequest, false, retry.CategoryValidation},
		{http.StatusUnprocessableEntity, false, retry.CategoryValidation},
		{http.StatusForbidden, false, retry.CategoryPermanent},
		{http.StatusConflict, false, retry.CategoryPermanent},
		{http.StatusRequestTimeout, true, retry.CategoryTimeout},
		{http.StatusTooEarly, true, retry.CategoryRateLimited},
		{http.StatusTooManyRequests, true, retry.CategoryRateLimited},
		{http.StatusInternalServerError, true, retry.CategoryServer},
		{http.StatusServiceUnavailable, true, retry.CategoryServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			err := NewHTTPExecutor(srv.URL, time.Second, nil).Execute(context.Background(), domain.RemoveContact{ContactID: "c"})

			var execErr *Error
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, tt.status, execErr.StatusCode)
			assert.Equal(t, tt.retryable, execErr.IsRetryable())
			assert.Equal(t, tt.category, execErr.Category())
			assert.Equal(t, tt.retryable, retry.IsTransient(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestExecute_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPExecutor(url, time.Second, nil).Execute(context.Background(), domain.RemoveContact{ContactID: "c"})

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.True(t, execErr.IsRetryable())
	assert.Equal(t, 0, execErr.StatusCode)
	assert.True(t, retry.IsTransient(err))
}

func TestExecute_CallerCancelIsNotRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewHTTPExecutor(srv.URL, 0, nil).Execute(ctx, domain.RemoveContact{ContactID: "c"})
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.False(t, execErr.IsRetryable())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnconfigured(t *testing.T) {
	err := Unconfigured{}.Execute(context.Background(), domain.RemoveContact{ContactID: "c"})
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.True(t, retry.IsTransient(err))
}
