// Package api sends HTTP calls with status checking, retries of transient
// failures and JSON helpers.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gurre/lego/logging"
	"github.com/gurre/lego/retry"
	"github.com/sirupsen/logrus"
)

// DefaultRetries is the number of extra attempts made for transient failures.
const DefaultRetries = 3

// DefaultTimeout bounds a single attempt when no HTTP client is supplied.
const DefaultTimeout = 60 * time.Second

// RequestBanner opens every dumped request.
const RequestBanner = "-----------START-----------"

// ErrNotSent is returned when a request was printed instead of sent.
var ErrNotSent = errors.New("request printed for troubleshooting and not sent")

// InvalidStatusError is returned when a response status is not one of the
// statuses accepted for the call.
type InvalidStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
	Body       []byte
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("Response from %s returned status code %d: %s \n%s", e.URL, e.StatusCode, e.Reason, e.Body)
}

// DefaultStatuses returns the statuses accepted for method when a request
// does not list its own.
func DefaultStatuses(method string) []int {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return []int{http.StatusOK, http.StatusCreated, http.StatusNoContent}
	case http.MethodPut:
		return []int{http.StatusOK, http.StatusNoContent}
	case http.MethodDelete:
		return []int{http.StatusNoContent}
	default:
		return []int{http.StatusOK, http.StatusCreated}
	}
}

// Request describes one HTTP call. At most one of Body, JSON and Form is used,
// in that order of precedence.
type Request struct {
	Method        string
	URL           string
	Headers       map[string]string
	Query         url.Values
	Body          []byte
	JSON          any
	Form          url.Values
	ValidStatuses []int // Empty means DefaultStatuses(Method)
	PrintRequest  bool  // Dump the request and return ErrNotSent without sending
	DumpOnError   bool  // Dump the request when the status is not accepted
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	URL        string
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body as JSON into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Retries    int // Zero uses DefaultRetries, negative disables retries
	Backoff    retry.Backoff
	DumpTo     io.Writer // Destination for dumped requests, stdout when nil
	Logger     *logrus.Entry
}

// Client sends Requests.
type Client struct {
	http    *http.Client
	retries int
	backoff retry.Backoff
	dumpTo  io.Writer
	log     *logrus.Entry
}

// NewClient creates a Client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		http:    opts.HTTPClient,
		retries: opts.Retries,
		backoff: opts.Backoff,
		dumpTo:  opts.DumpTo,
		log:     logging.OrDiscard(opts.Logger),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.retries == 0 {
		c.retries = DefaultRetries
	} else if c.retries < 0 {
		c.retries = 0
	}
	if c.backoff == (retry.Backoff{}) {
		c.backoff = retry.Default()
	}
	if c.dumpTo == nil {
		c.dumpTo = os.Stdout
	}
	return c
}

// Do sends req and returns the response if its status is accepted.
// Transport errors, 429 and 5xx responses are retried with backoff before
// the final result is checked.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	if req.PrintRequest {
		httpReq, err := c.build(ctx, req, body, contentType)
		if err != nil {
			return nil, err
		}
		if err := DumpRequest(c.dumpTo, httpReq, body); err != nil {
			return nil, err
		}
		fmt.Fprintln(c.dumpTo, "\nPrinted API call above for troubleshooting.")
		return nil, ErrNotSent
	}

	var resp *Response
	attempt := 0
	for {
		httpReq, err := c.build(ctx, req, body, contentType)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(httpReq)
		if err != nil {
			if ctx.Err() == nil && attempt < c.retries {
				c.log.WithError(err).Warnf("%s %s failed, retrying", req.Method, req.URL)
				if !c.backoff.Wait(ctx, attempt) {
					return nil, ctx.Err()
				}
				attempt++
				continue
			}
			return nil, fmt.Errorf("%s %s failed after %d attempts: %w", req.Method, req.URL, attempt+1, err)
		}

		if isRetryableStatus(resp.StatusCode) && attempt < c.retries {
			c.log.Warnf("%s %s returned %d, retrying", req.Method, req.URL, resp.StatusCode)
			if !c.backoff.Wait(ctx, attempt) {
				return nil, ctx.Err()
			}
			attempt++
			continue
		}
		break
	}

	valid := req.ValidStatuses
	if len(valid) == 0 {
		valid = DefaultStatuses(req.Method)
	}
	if !slices.Contains(valid, resp.StatusCode) {
		if req.DumpOnError {
			if httpReq, err := c.build(ctx, req, body, contentType); err == nil {
				_ = DumpRequest(c.dumpTo, httpReq, body)
			}
		}
		return nil, &InvalidStatusError{
			Method:     req.Method,
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Body:       resp.Body,
		}
	}

	c.log.Debugf("Success, HTTP %d.", resp.StatusCode)
	return resp, nil
}

func (c *Client) build(ctx context.Context, req Request, body []byte, contentType string) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func (c *Client) send(httpReq *http.Request) (*Response, error) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        httpReq.URL.String(),
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Body != nil:
		return req.Body, "", nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode JSON body: %w", err)
		}
		return data, "application/json", nil
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

// DumpRequest writes the method, URL, headers and body of req between the
// request banner. Header names are sorted.
func DumpRequest(w io.Writer, req *http.Request, body []byte) error {
	names := make([]string, 0, len(req.Header))
	for k := range req.Header {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(RequestBanner + "\n")
	b.WriteString(req.Method + " " + req.URL.String() + "\r\n")
	for _, k := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", k, strings.Join(req.Header[k], ", "))
	}
	b.WriteString("\r\n")
	b.Write(body)
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
