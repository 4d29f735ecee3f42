package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
)

// GetJSON sends a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodGet
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// PostJSON sends a POST and decodes the response into out. A 204, an empty
// body or a body that is not JSON leaves out untouched.
func (c *Client) PostJSON(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodPost
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent {
		c.log.Info("Success, HTTP 204 No Content returned.")
		return nil
	}
	if out == nil || len(resp.Body) == 0 || !json.Valid(resp.Body) {
		c.log.Debugf("Success, HTTP %d. No Content Returned.", resp.StatusCode)
		return nil
	}
	return resp.Decode(out)
}

// PutJSON sends a PUT and decodes the response into out unless it is a 204.
func (c *Client) PutJSON(ctx context.Context, req Request, out any) error {
	req.Method = http.MethodPut
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent {
		c.log.Info("Success, HTTP 204 No Content returned.")
		return nil
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Delete sends a DELETE and discards the response body.
func (c *Client) Delete(ctx context.Context, req Request) error {
	req.Method = http.MethodDelete
	_, err := c.Do(ctx, req)
	return err
}
