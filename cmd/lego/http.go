package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gurre/lego/api"
	"github.com/gurre/lego/auth"
	"github.com/integrii/flaggy"
)

// EnvClientSecret supplies the client secret for token requests.
const EnvClientSecret = "LEGO_CLIENT_SECRET"

type httpFlags struct {
	method      string
	url         string
	headers     []string
	query       []string
	form        []string
	data        string
	asJSON      bool
	statuses    []int
	retries     int
	print       bool
	dumpOnError bool

	authType  string
	name      string
	tokenURL  string
	clientID  string
	scopes    []string
	tokenForm []string
}

func httpCommands() (*flaggy.Subcommand, []command) {
	var f httpFlags
	sc := flaggy.NewSubcommand("http")
	sc.Description = "Send an HTTP request, optionally with cached credentials"
	sc.AddPositionalValue(&f.method, "method", 1, true, "GET, POST, PUT or DELETE")
	sc.AddPositionalValue(&f.url, "url", 2, true, "Request URL")
	sc.StringSlice(&f.headers, "H", "header", "Header as 'Name: value'")
	sc.StringSlice(&f.query, "q", "query", "Query parameter as key=value")
	sc.StringSlice(&f.form, "F", "form", "Form field as key=value")
	sc.String(&f.data, "D", "data", "Raw request body")
	sc.Bool(&f.asJSON, "j", "json", "Send the body as application/json")
	sc.IntSlice(&f.statuses, "", "status", "Accepted status code, defaults depend on the method")
	sc.Int(&f.retries, "r", "retries", "Retries for transport errors, 429 and 5xx; negative disables")
	sc.Bool(&f.print, "p", "print", "Print the request instead of sending it")
	sc.Bool(&f.dumpOnError, "", "dump-on-error", "Print the request when the response status is not accepted")
	sc.String(&f.authType, "a", "auth", "Authentication: basic, bearer or client_credentials")
	sc.String(&f.name, "n", "name", "Name credentials are cached under, defaults to the URL host")
	sc.String(&f.tokenURL, "", "token-url", "Token endpoint for bearer and client_credentials")
	sc.String(&f.clientID, "", "client-id", "OAuth client ID, the secret is read from "+EnvClientSecret)
	sc.StringSlice(&f.scopes, "", "scope", "OAuth scope")
	sc.StringSlice(&f.tokenForm, "", "token-form", "Token request form field as key=value")

	return sc, []command{{sc: sc, run: f.run}}
}

func (f *httpFlags) request() (api.Request, error) {
	req := api.Request{
		Method:        f.method,
		URL:           f.url,
		ValidStatuses: f.statuses,
		PrintRequest:  f.print,
		DumpOnError:   f.dumpOnError,
	}

	headers := make(map[string]string, len(f.headers))
	for _, h := range f.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return api.Request{}, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	req.Headers = headers

	var err error
	if req.Query, err = values(f.query); err != nil {
		return api.Request{}, err
	}
	if len(f.form) > 0 {
		if req.Form, err = values(f.form); err != nil {
			return api.Request{}, err
		}
	}
	if f.data != "" {
		req.Body = []byte(f.data)
		if f.asJSON {
			req.Headers["Content-Type"] = "application/json"
		}
	}
	return req, nil
}

func values(pairs []string) (url.Values, error) {
	v := url.Values{}
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pair %q, want key=value", p)
		}
		v.Add(k, val)
	}
	return v, nil
}

func (f *httpFlags) handler(a *app) (*auth.Handler, error) {
	typ, err := auth.ParseType(f.authType)
	if err != nil {
		return nil, err
	}
	name := f.name
	if name == "" {
		u, err := url.Parse(f.url)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("cannot derive a credentials name from %q, use --name", f.url)
		}
		name = u.Hostname()
	}
	if typ != auth.Basic && f.tokenURL == "" {
		return nil, errors.New("--token-url is required for token authentication")
	}

	form, err := values(f.tokenForm)
	if err != nil {
		return nil, err
	}
	tokenForm := make(map[string]string, len(form))
	for k := range form {
		tokenForm[k] = form.Get(k)
	}

	env := a.settings.Environment()
	envs := map[string]auth.EnvConfig{
		env: {
			APIURL: f.url,
			Token: auth.TokenConfig{
				URL:          f.tokenURL,
				Form:         tokenForm,
				ClientID:     f.clientID,
				ClientSecret: os.Getenv(EnvClientSecret),
				Scopes:       f.scopes,
			},
		},
	}
	return auth.New(name, typ, envs, env, auth.WithLogger(a.log))
}

func (f *httpFlags) run(ctx context.Context, a *app) error {
	req, err := f.request()
	if err != nil {
		return err
	}
	client := api.NewClient(api.Options{Retries: f.retries, Logger: a.log, DumpTo: a.out})

	send := func(ctx context.Context, call auth.Call) error {
		req.URL = call.APIURL
		req.Headers = call.Headers
		resp, err := client.Do(ctx, req)
		if errors.Is(err, api.ErrNotSent) {
			return nil
		}
		if err != nil {
			return err
		}
		a.log.Debugf("%s %s returned %s", req.Method, resp.URL, resp.Status)
		_, err = a.out.Write(resp.Body)
		if err == nil && len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
			_, err = fmt.Fprintln(a.out)
		}
		return err
	}

	call := auth.Call{APIURL: req.URL, Headers: req.Headers}
	if f.authType == "" {
		return send(ctx, call)
	}
	if f.print {
		// A printed request is never sent, so no credentials are fetched.
		a.log.Infof("Printing request without %s credentials", f.authType)
		return send(ctx, call)
	}
	h, err := f.handler(a)
	if err != nil {
		return err
	}
	return h.ManageAuth(send)(ctx, call)
}

func credsCommands() (*flaggy.Subcommand, []command) {
	creds := flaggy.NewSubcommand("creds")
	creds.Description = "Manage cached API credentials"

	var name, env string
	clearCmd := flaggy.NewSubcommand("clear")
	clearCmd.Description = "Delete the cached credentials for a name"
	clearCmd.AddPositionalValue(&name, "name", 1, true, "Name the credentials are cached under")
	clearCmd.String(&env, "e", "env", "Environment, defaults to the Environment setting")
	creds.AttachSubcommand(clearCmd, 1)

	return creds, []command{
		{sc: clearCmd, run: func(ctx context.Context, a *app) error {
			if env == "" {
				env = a.settings.Environment()
			}
			store, err := auth.DefaultFileStore()
			if err != nil {
				return err
			}
			key := auth.Key(name, env)
			if err := store.Delete(ctx, key); err != nil {
				return err
			}
			a.log.Infof("Cleared cached credentials %s", key)
			return nil
		}},
	}
}
