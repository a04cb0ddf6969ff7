package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJupiterClient_Prices(t *testing.T) {
	var gotIDs, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("ids")
		gotKey = r.Header.Get("x-api-key")
		w.Write([]byte(`{"data":{
			"mintA":{"id":"mintA","type":"derivedPrice","price":"0.00012345"},
			"So11111111111111111111111111111111111111112":{"id":"So11111111111111111111111111111111111111112","price":"150.5"},
			"mintB":null
		},"timeTaken":0.003}`))
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, WithAPIKey("secret"))
	prices, err := c.Prices(context.Background(), []string{"mintA", "mintB", "So11111111111111111111111111111111111111112"})
	require.NoError(t, err)

	assert.Equal(t, "mintA,mintB,So11111111111111111111111111111111111111112", gotIDs)
	assert.Equal(t, "secret", gotKey)
	assert.Len(t, prices, 2)
	assert.InDelta(t, 0.00012345, prices["mintA"], 1e-15)
	assert.InDelta(t, 150.5, prices["So11111111111111111111111111111111111111112"], 1e-9)
	_, ok := prices["mintB"]
	assert.False(t, ok)
}

func TestJupiterClient_Batches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		assert.LessOrEqual(t, len(ids), 2)
		var parts []string
		for _, id := range ids {
			parts = append(parts, `"`+id+`":{"price":"1"}`)
		}
		w.Write([]byte(`{"data":{` + strings.Join(parts, ",") + `}}`))
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, WithBatchSize(2))
	prices, err := c.Prices(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, prices, 5)
	assert.Equal(t, int32(3), requests.Load())
}

func TestJupiterClient_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{"a":{"price":"2"}}}`))
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, WithRetryDelay(time.Millisecond))
	prices, err := c.Prices(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, prices["a"])
	assert.Equal(t, int32(3), requests.Load())
}

func TestJupiterClient_RetriesExhausted(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(1))
	_, err := c.Prices(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), requests.Load())
}

func TestJupiterClient_ClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, WithRetryDelay(time.Millisecond))
	_, err := c.Prices(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(1), requests.Load())
}

func TestJupiterClient_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"a":{"price":"not-a-number"}}}`))
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL)
	_, err := c.Prices(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestJupiterClient_SkipsNonPositive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"a":{"price":"0"},"b":{"price":""},"c":{"price":"3"}}}`))
	}))
	defer srv.Close()

	prices, err := NewJupiterClient(srv.URL).Prices(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"c": 3}, prices)
}
