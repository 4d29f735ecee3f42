package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gurre/lego/api"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

func (h *Handler) basic(now time.Time) (*Credentials, error) {
	username, err := h.prompter.String(fmt.Sprintf("Enter the username for %s %s: ", h.name, h.env))
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	password, err := h.prompter.Secret(fmt.Sprintf("Enter the password for %s %s: ", h.name, h.env))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}

	return &Credentials{
		Received:   now.Unix(),
		Username:   username,
		AuthHeader: BasicHeader(username, password),
	}, nil
}

// BasicHeader returns the Authorization value for username and password.
func BasicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) bearer(ctx context.Context, cfg TokenConfig, now time.Time) (*Credentials, error) {
	form := url.Values{}
	for k, v := range cfg.Form {
		form.Set(k, v)
	}
	if err := resolveDynamic(cfg.Dynamic, form, h); err != nil {
		return nil, err
	}
	if cfg.ClientID != "" && form.Get("client_id") == "" {
		form.Set("client_id", cfg.ClientID)
	}
	if cfg.ClientSecret != "" && form.Get("client_secret") == "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	query := url.Values{}
	for k, v := range cfg.Params {
		query.Set(k, v)
	}

	var tok tokenResponse
	err := h.api.PostJSON(ctx, api.Request{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Query:   query,
		Form:    form,
	}, &tok)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	return &Credentials{
		Received:   now.Unix(),
		Expiry:     now.Add(expiresIn).Unix(),
		AuthHeader: "Bearer " + tok.AccessToken,
		TokenType:  tok.TokenType,
	}, nil
}

func (h *Handler) clientCredentials(ctx context.Context, cfg TokenConfig, now time.Time) (*Credentials, error) {
	params := url.Values{}
	for k, v := range cfg.Params {
		params.Set(k, v)
	}
	for k, v := range cfg.Form {
		params.Set(k, v)
	}
	if err := resolveDynamic(cfg.Dynamic, params, h); err != nil {
		return nil, err
	}

	cc := clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.URL,
		Scopes:         cfg.Scopes,
		EndpointParams: params,
	}
	if h.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("client credentials grant failed: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		if exp, ok := jwtExpiry(tok.AccessToken); ok {
			expiry = exp
		} else {
			expiry = now.Add(DefaultExpiresIn)
		}
	}

	return &Credentials{
		Received:   now.Unix(),
		Expiry:     expiry.Unix(),
		AuthHeader: tok.Type() + " " + tok.AccessToken,
		TokenType:  tok.TokenType,
	}, nil
}

func resolveDynamic(dynamic map[string]func() (string, error), into url.Values, h *Handler) error {
	for k, fn := range dynamic {
		h.log.Debugf("Config item %s is a function, calling function to update value", k)
		v, err := fn()
		if err != nil {
			return fmt.Errorf("failed to resolve token parameter %s: %w", k, err)
		}
		into.Set(k, v)
	}
	return nil
}

// jwtExpiry reads the exp claim of an access token without verifying it.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
