package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gurre/lego/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(retries int) *Client {
	return NewClient(Options{
		Retries: retries,
		Backoff: retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
		DumpTo:  io.Discard,
	})
}

func TestDefaultStatuses(t *testing.T) {
	testCases := []struct {
		method string
		want   []int
	}{
		{"GET", []int{200, 201}},
		{"get", []int{200, 201}},
		{"POST", []int{200, 201, 204}},
		{"PUT", []int{200, 204}},
		{"DELETE", []int{204}},
	}

	for _, tc := range testCases {
		t.Run(tc.method, func(t *testing.T) {
			assert.Equal(t, tc.want, DefaultStatuses(tc.method))
		})
	}
}

func TestDoSendsHeadersQueryAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"widget"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	resp, err := fastClient(0).Do(context.Background(), Request{
		Method:  "post",
		URL:     srv.URL + "/items",
		Headers: map[string]string{"Authorization": "Bearer abc"},
		Query:   url.Values{"limit": {"10"}},
		JSON:    map[string]string{"name": "widget"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct{ ID int }
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 7, out.ID)
}

func TestDoInvalidStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no such thing"))
	}))
	defer srv.Close()

	_, err := fastClient(0).Do(context.Background(), Request{URL: srv.URL + "/missing"})

	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "Response from "+srv.URL+"/missing returned status code 404: Not Found \nno such thing", err.Error())
}

func TestDoCustomValidStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := fastClient(0).Do(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)

	resp, err := fastClient(0).Do(context.Background(), Request{URL: srv.URL, ValidStatuses: []int{http.StatusAccepted}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	resp, err := fastClient(3).Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastClient(2).Do(context.Background(), Request{URL: srv.URL})

	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(3).Do(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := fastClient(1).Do(context.Background(), Request{URL: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestPrintRequestDoesNotSend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := NewClient(Options{DumpTo: &buf})
	_, err := c.Do(context.Background(), Request{
		Method:       http.MethodPost,
		URL:          srv.URL + "/token",
		Headers:      map[string]string{"User-Agent": "lego"},
		Form:         url.Values{"grant_type": {"client_credentials"}},
		PrintRequest: true,
	})

	assert.True(t, errors.Is(err, ErrNotSent))
	assert.Equal(t, int32(0), calls.Load())
	out := buf.String()
	assert.Contains(t, out, RequestBanner)
	assert.Contains(t, out, "POST "+srv.URL+"/token")
	assert.Contains(t, out, "Content-Type: application/x-www-form-urlencoded")
	assert.Contains(t, out, "User-Agent: lego")
	assert.Contains(t, out, "grant_type=client_credentials")
}

func TestDumpOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c := NewClient(Options{DumpTo: &buf, Retries: -1})
	_, err := c.Do(context.Background(), Request{URL: srv.URL, DumpOnError: true})
	require.Error(t, err)
	assert.Contains(t, buf.String(), RequestBanner)
}

func TestPostJSON(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		want   map[string]any
	}{
		{"json body", http.StatusOK, `{"ok":true}`, map[string]any{"ok": true}},
		{"no content", http.StatusNoContent, "", map[string]any{}},
		{"not json", http.StatusCreated, "created", map[string]any{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			out := map[string]any{}
			require.NoError(t, fastClient(0).PostJSON(context.Background(), Request{URL: srv.URL}, &out))
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestGetPutDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[1,2,3]`))
		case http.MethodPut:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := fastClient(0)
	ctx := context.Background()

	var nums []int
	require.NoError(t, c.GetJSON(ctx, Request{URL: srv.URL}, &nums))
	assert.Equal(t, []int{1, 2, 3}, nums)

	require.NoError(t, c.PutJSON(ctx, Request{URL: srv.URL, JSON: map[string]int{"a": 1}}, nil))
	require.NoError(t, c.Delete(ctx, Request{URL: srv.URL}))
}
