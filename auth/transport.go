package auth

import (
	"net/http"
)

// Transport is an http.RoundTripper that sets the Authorization header from
// a Handler. A 401 response clears the cached credentials and the request is
// replayed once with fresh ones.
type Transport struct {
	Handler *Handler
	Base    http.RoundTripper // http.DefaultTransport when nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	creds, err := t.Handler.ValidCredentials(ctx)
	if err != nil {
		return nil, err
	}

	first := req.Clone(ctx)
	first.Header.Set("Authorization", creds.AuthHeader)
	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The body was consumed by the first attempt and cannot be replayed.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	resp.Body.Close()

	t.Handler.log.Debugf("%s returned 401, refreshing credentials", req.URL.Redacted())
	if err := t.Handler.ClearCachedCredentials(ctx); err != nil {
		return nil, err
	}
	creds, err = t.Handler.ValidCredentials(ctx)
	if err != nil {
		return nil, err
	}

	replay := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		replay.Body = body
	}
	replay.Header.Set("Authorization", creds.AuthHeader)
	return t.base().RoundTrip(replay)
}

// Client returns an HTTP client that authenticates every request.
func (h *Handler) Client() *http.Client {
	base := http.DefaultTransport
	if h.httpClient != nil && h.httpClient.Transport != nil {
		base = h.httpClient.Transport
	}
	return &http.Client{Transport: &Transport{Handler: h, Base: base}}
}
