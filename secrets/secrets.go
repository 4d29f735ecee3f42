// Package secrets reads values from AWS Secrets Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	json "github.com/goccy/go-json"
	"github.com/gurre/lego/aws"
)

var (
	// ErrSecretNotFound is returned when the secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrAccessDenied is returned when the caller may not read the secret.
	ErrAccessDenied = errors.New("access to secret denied")

	// ErrSecretEmpty is returned when the secret has neither a string nor a binary value.
	ErrSecretEmpty = errors.New("secret has no value")
)

// RawKey holds the whole value in GetMap results for secrets that are not
// JSON objects.
const RawKey = "value"

// Client reads secrets through an aws.SecretsManagerClient.
type Client struct {
	client aws.SecretsManagerClient
}

// NewClient creates a Client.
func NewClient(client aws.SecretsManagerClient) *Client {
	return &Client{client: client}
}

// Get returns the raw value of the named secret. Binary secrets are returned
// as their bytes.
func (c *Client) Get(ctx context.Context, name string) (string, error) {
	out, err := c.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return "", classify(name, err)
	}
	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretEmpty, name)
}

// GetMap returns the named secret as key/value pairs. A secret that is not a
// JSON object yields a single RawKey entry holding the raw value. Non-string
// JSON values are returned in their JSON form.
func (c *Client) GetMap(ctx context.Context, name string) (map[string]string, error) {
	raw, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return map[string]string{RawKey: raw}, nil
	}

	out := make(map[string]string, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

func classify(name string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		case "AccessDeniedException", "AccessDenied":
			return fmt.Errorf("%w: %s: %s", ErrAccessDenied, name, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("failed to get secret %s: %w", name, err)
}
