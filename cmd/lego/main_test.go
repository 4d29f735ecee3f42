package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gurre/lego/config"
	"github.com/gurre/lego/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPRequestFromFlags(t *testing.T) {
	f := httpFlags{
		method:  "post",
		url:     "https://api.example.com/v1/items",
		headers: []string{"X-Trace: abc", "Accept:application/json"},
		query:   []string{"page=2", "tag=a", "tag=b"},
		data:    `{"name":"x"}`,
		asJSON:  true,
	}

	req, err := f.request()
	require.NoError(t, err)
	assert.Equal(t, "post", req.Method)
	assert.Equal(t, map[string]string{
		"X-Trace":      "abc",
		"Accept":       "application/json",
		"Content-Type": "application/json",
	}, req.Headers)
	assert.Equal(t, []string{"a", "b"}, req.Query["tag"])
	assert.Equal(t, `{"name":"x"}`, string(req.Body))
	assert.Nil(t, req.Form)

	f.headers = []string{"broken"}
	_, err = f.request()
	assert.Error(t, err)
}

func TestHTTPPrintSkipsCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()
	t.Setenv(EnvClientSecret, "secret")

	var out bytes.Buffer
	a := &app{settings: config.Defaults(), log: logging.Discard(), out: &out}
	f := httpFlags{
		method:   "get",
		url:      srv.URL + "/v1/items",
		print:    true,
		authType: "client_credentials",
		tokenURL: srv.URL + "/token",
		clientID: "lego",
	}

	require.NoError(t, f.run(context.Background(), a))
	assert.Zero(t, hits.Load())
	assert.Contains(t, out.String(), "GET "+srv.URL+"/v1/items")
	assert.NotContains(t, out.String(), "Authorization")
}

func TestValues(t *testing.T) {
	v, err := values([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, "1", v.Get("a"))
	assert.Equal(t, "x=y", v.Get("b"))

	_, err = values([]string{"novalue"})
	assert.Error(t, err)
}

func TestSortValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")
	require.NoError(t, os.WriteFile(path, []byte("order_id\n2024-001\n2024-002, \n"), 0o644))

	f := ddbFlags{values: []string{"2024-000"}, file: path, header: true}
	got, err := f.sortValues()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-000", "2024-001", "2024-002"}, got)

	_, err = (&ddbFlags{}).sortValues()
	assert.Error(t, err)
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "NULL", formatCell(nil))
	assert.Equal(t, "bytes", formatCell([]byte("bytes")))
	assert.Equal(t, "42", formatCell(int64(42)))
}
