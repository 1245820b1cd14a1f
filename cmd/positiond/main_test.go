package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"frizo/position_engine/internal/api"
	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestCheckHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		log := logger.Discard()
		e := engine.New(store.NewMemoryStore(), margin.DefaultTable(), engine.WithLogger(log))
		srv := httptest.NewServer(api.NewRouter(api.NewHandler(e, log), nil))
		defer srv.Close()

		assert.NoError(t, checkHealth(srv.URL))
	})

	t.Run("UnhealthyIsNotRetried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		assert.Error(t, checkHealth(srv.URL))
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Unreachable", func(t *testing.T) {
		assert.Error(t, checkHealth("http://127.0.0.1:1"))
	})
}
