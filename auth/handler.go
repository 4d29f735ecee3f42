// Package auth obtains, caches and injects credentials for HTTP APIs that
// use basic auth or bearer tokens, with one configuration per environment.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gurre/lego/api"
	"github.com/gurre/lego/logging"
	"github.com/gurre/lego/prompt"
	"github.com/sirupsen/logrus"
)

// Type selects how credentials are obtained.
type Type int

const (
	// Basic prompts for a username and password.
	Basic Type = iota + 1
	// Bearer posts a token request and reads access_token and expires_in.
	Bearer
	// ClientCredentials runs the OAuth2 client credentials grant.
	ClientCredentials
)

func (t Type) String() string {
	switch t {
	case Basic:
		return "basic"
	case Bearer:
		return "bearer"
	case ClientCredentials:
		return "client_credentials"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType parses the names returned by Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "basic":
		return Basic, nil
	case "bearer", "jwt_bearer":
		return Bearer, nil
	case "client_credentials", "oauth2":
		return ClientCredentials, nil
	}
	return 0, fmt.Errorf("unknown auth type %q", s)
}

var (
	// ErrUnknownEnv is returned when a handler is created for an environment
	// it has no configuration for.
	ErrUnknownEnv = errors.New("environment does not exist as a config")

	// ErrNoToken is returned when a token response carries no access token.
	ErrNoToken = errors.New("token response did not include an access token")
)

// DefaultExpiresIn is used when a token response carries no lifetime.
const DefaultExpiresIn = 3600 * time.Second

// TokenConfig describes the token request of the Bearer and
// ClientCredentials flows.
type TokenConfig struct {
	URL          string
	Headers      map[string]string
	Form         map[string]string // Bearer request body
	Params       map[string]string // Bearer query string, or extra client credentials parameters
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Dynamic values are resolved on every token request and added to the
	// request body.
	Dynamic map[string]func() (string, error)
}

// EnvConfig is the configuration for one environment.
type EnvConfig struct {
	APIURL string
	Token  TokenConfig
}

// Prompter asks the user for basic auth credentials.
type Prompter interface {
	String(label string) (string, error)
	Secret(label string) (string, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithStore sets where credentials are cached. The default is a FileStore in
// ~/.pythontoolscreds.
func WithStore(s Store) Option {
	return func(h *Handler) { h.store = s }
}

// WithPrompter sets the prompter used by the Basic flow.
func WithPrompter(p Prompter) Option {
	return func(h *Handler) { h.prompter = p }
}

// WithAPIClient sets the client used for token requests.
func WithAPIClient(c *api.Client) Option {
	return func(h *Handler) { h.api = c }
}

// WithHTTPClient sets the HTTP client used by the client credentials grant.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(h *Handler) { h.log = logging.OrDiscard(log) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler holds the per-environment configuration of one API and the
// credentials currently in use for the selected environment.
type Handler struct {
	name string
	typ  Type
	envs map[string]EnvConfig

	store      Store
	prompter   Prompter
	api        *api.Client
	httpClient *http.Client
	log        *logrus.Entry
	now        func() time.Time

	mu    sync.Mutex
	env   string
	creds *Credentials
}

// New creates a Handler for the named API using env.
// Example:
//
//	h, err := auth.New("billing", auth.Bearer, map[string]auth.EnvConfig{
//	    "prod": {APIURL: "https://billing.example.com", Token: auth.TokenConfig{URL: "https://login.example.com/token"}},
//	}, "prod")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	creds, err := h.ValidCredentials(ctx)
func New(name string, typ Type, envs map[string]EnvConfig, env string, opts ...Option) (*Handler, error) {
	if name == "" {
		return nil, errors.New("handler name is required")
	}
	switch typ {
	case Basic, Bearer, ClientCredentials:
	default:
		return nil, fmt.Errorf("unsupported auth type %v", typ)
	}
	if _, ok := envs[env]; !ok {
		return nil, fmt.Errorf("%w: %s (configured: %v)", ErrUnknownEnv, env, envNames(envs))
	}

	h := &Handler{
		name: name,
		typ:  typ,
		envs: envs,
		env:  env,
		log:  logging.Discard(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.store == nil {
		fs, err := DefaultFileStore()
		if err != nil {
			return nil, err
		}
		h.store = fs
	}
	if h.prompter == nil {
		h.prompter = prompt.NewTerminal()
	}
	if h.api == nil {
		h.api = api.NewClient(api.Options{HTTPClient: h.httpClient, Logger: h.log})
	}
	return h, nil
}

func envNames(envs map[string]EnvConfig) []string {
	names := make([]string, 0, len(envs))
	for k := range envs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Name returns the API name.
func (h *Handler) Name() string { return h.name }

// Type returns the auth type.
func (h *Handler) Type() Type { return h.typ }

// Env returns the selected environment.
func (h *Handler) Env() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env
}

// SetEnv selects another environment. An environment without configuration
// is logged and ignored. The in-memory credentials are dropped either way.
func (h *Handler) SetEnv(env string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.envs[env]; !ok {
		h.log.Warnf("Environment %s does not exist as a config for %s", env, h.name)
	} else {
		h.env = env
	}
	h.creds = nil
}

// APIURL returns the API URL of the selected environment.
func (h *Handler) APIURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.envs[h.env].APIURL
}

func (h *Handler) key() string {
	return Key(h.name, h.env)
}

// ValidCredentials returns credentials that have not expired. Credentials
// are taken from memory, then from the store, and are obtained again when
// neither holds any or the held ones have expired. New credentials are
// written to the store.
func (h *Handler) ValidCredentials(ctx context.Context) (Credentials, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if h.creds == nil {
		h.log.Debug("Trying to get cached credentials")
		cached, err := h.store.Load(ctx, h.key())
		if err != nil {
			h.log.WithError(err).Warn("Ignoring unreadable cached credentials")
		}
		h.creds = cached
	}

	if h.creds == nil || h.creds.Expired(now) {
		h.log.Debug("Getting new authentication credentials")
		creds, err := h.obtain(ctx, now)
		if err != nil {
			h.creds = nil
			return Credentials{}, fmt.Errorf("failed to get %s credentials for %s %s: %w", h.typ, h.name, h.env, err)
		}
		h.creds = creds
		if err := h.store.Save(ctx, h.key(), creds); err != nil {
			return Credentials{}, err
		}
	}

	return *h.creds, nil
}

// ClearCachedCredentials removes the credentials of the selected environment
// from the store and from memory.
func (h *Handler) ClearCachedCredentials(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.creds = nil
	if err := h.store.Delete(ctx, h.key()); err != nil {
		return err
	}
	return nil
}

func (h *Handler) obtain(ctx context.Context, now time.Time) (*Credentials, error) {
	cfg := h.envs[h.env]
	switch h.typ {
	case Basic:
		return h.basic(now)
	case Bearer:
		return h.bearer(ctx, cfg.Token, now)
	case ClientCredentials:
		return h.clientCredentials(ctx, cfg.Token, now)
	}
	return nil, fmt.Errorf("unsupported auth type %v", h.typ)
}

// Call carries the values injected into a managed call.
type Call struct {
	APIURL  string
	Headers map[string]string
}

// CallFunc is a call that needs authentication.
type CallFunc func(ctx context.Context, call Call) error

// ManageAuth wraps fn so that every invocation receives valid credentials in
// call.Headers["Authorization"] and the selected environment's API URL when
// call.APIURL is empty. The caller's headers map is not modified.
func (h *Handler) ManageAuth(fn CallFunc) CallFunc {
	return func(ctx context.Context, call Call) error {
		creds, err := h.ValidCredentials(ctx)
		if err != nil {
			return err
		}
		if call.APIURL == "" {
			call.APIURL = h.APIURL()
		}
		headers := make(map[string]string, len(call.Headers)+1)
		for k, v := range call.Headers {
			headers[k] = v
		}
		headers["Authorization"] = creds.AuthHeader
		call.Headers = headers
		return fn(ctx, call)
	}
}
