package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportInjectsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, BasicHeader("u", "p"), r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := New("svc", Basic, basicEnvs(), "prod",
		WithStore(NewMemoryStore()), WithPrompter(&fakePrompter{username: "u", password: "p"}))
	require.NoError(t, err)

	resp, err := h.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransportReplaysOnUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))
		if calls.Add(1) == 1 {
			assert.Equal(t, "Basic stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, BasicHeader("u", "fresh"), r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, "svc-prod", &Credentials{AuthHeader: "Basic stale"}))

	p := &fakePrompter{username: "u", password: "fresh"}
	h, err := New("svc", Basic, basicEnvs(), "prod", WithStore(store), WithPrompter(p))
	require.NoError(t, err)

	resp, err := h.Client().Post(srv.URL, "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, p.calls)

	saved, err := store.Load(ctx, "svc-prod")
	require.NoError(t, err)
	assert.Equal(t, BasicHeader("u", "fresh"), saved.AuthHeader)
}
