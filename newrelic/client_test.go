package newrelic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:        "NRAK-test",
		AccountID:     42,
		Endpoint:      srv.URL,
		Timeout:       2 * time.Second,
		RetryInterval: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func decodeRequest(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	var req graphQLRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{AccountID: 1})
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestSearchEntities_Paginates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NRAK-test", r.Header.Get("API-Key"))
		req := decodeRequest(t, r)
		assert.Equal(t, "accountId = 42 AND domain IN ('APM')", req.Variables["query"])

		if calls.Add(1) == 1 {
			assert.Nil(t, req.Variables["cursor"])
			w.Write([]byte(`{"data":{"actor":{"entitySearch":{"count":3,"results":{"nextCursor":"page-2","entities":[
				{"guid":"g1","name":"checkout","domain":"APM","entityType":"APM_APPLICATION_ENTITY","reporting":true},
				{"guid":"g2","name":"billing","domain":"APM","reporting":false}]}}}}}`))
			return
		}
		assert.Equal(t, "page-2", req.Variables["cursor"])
		w.Write([]byte(`{"data":{"actor":{"entitySearch":{"count":3,"results":{"nextCursor":null,"entities":[
			{"guid":"g3","name":"search","domain":"APM","reporting":true}]}}}}}`))
	})

	entities, err := c.SearchEntities(context.Background(), []string{"apm"})
	require.NoError(t, err)

	require.Len(t, entities, 3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "g1", entities[0].GUID)
	assert.True(t, entities[0].Reporting)
	assert.Equal(t, "APM_APPLICATION_ENTITY", entities[0].EntityType)
	assert.False(t, entities[1].Reporting)
	assert.Equal(t, "search", entities[2].Name)
}

func TestNRQL_ReturnsRowsWithNulls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, float64(42), req.Variables["accountId"])
		assert.Contains(t, req.Variables["nrql"], "FROM Transaction")
		w.Write([]byte(`{"data":{"actor":{"account":{"nrql":{"results":[{"value":null}]}}}}}`))
	})

	rows, err := c.NRQL(context.Background(), "SELECT average(duration) AS 'value' FROM Transaction")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, ok := rows[0]["value"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestQuery_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"actor":{"account":{"nrql":{"results":[{"value":1.5}]}}}}}`))
	})

	rows, err := c.NRQL(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, rows[0]["value"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestQuery_DoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.NRQL(context.Background(), "SELECT 1")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQuery_GraphQLErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"invalid nrql"}]}`))
	})

	_, err := c.NRQL(context.Background(), "SELEC")
	require.Error(t, err)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, []string{"invalid nrql"}, qe.Messages)
	assert.False(t, qe.RateLimited)
}

func TestBreaker_OpensOnRateLimits(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	results := map[string]int{}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, func(cfg *Config) {
		cfg.MaxRetries = 1
		cfg.OnRequest = func(result string) {
			mu.Lock()
			results[result]++
			mu.Unlock()
		}
	})

	for range maxRateLimited {
		_, err := c.NRQL(context.Background(), "SELECT 1")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.NRQL(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(maxRateLimited), calls.Load(), "open breaker must not reach the server")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, maxRateLimited, results["rate_limited"])
	assert.Equal(t, 1, results["rejected"])
}

func TestHealthCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"actor":{"account":{"nrql":{"results":[{"count":10}]}}}}}`))
	})

	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "closed", c.BreakerState())
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"breaker open", gobreaker.ErrOpenState, true},
		{"breaker half-open", fmt.Errorf("wrapped: %w", gobreaker.ErrTooManyRequests), true},
		{"unauthorized", &StatusError{Code: http.StatusUnauthorized}, true},
		{"server error", &StatusError{Code: http.StatusBadGateway}, true},
		{"rate limited", &StatusError{Code: http.StatusTooManyRequests}, false},
		{"query error", &QueryError{Messages: []string{"bad nrql"}}, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}
