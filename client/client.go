// Package client talks to the repository manager's script API: it
// registers named scripts and runs them with a JSON argument.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/scripts"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
)

const scriptPath = "/v1/script"

// RegisterStatus tells the caller what Register had to do.
type RegisterStatus string

const (
	StatusCreated       RegisterStatus = "created"
	StatusAlreadyExists RegisterStatus = "already_exists"
)

// ExecutionResult is the raw outcome of one script run.
type ExecutionResult struct {
	Script    string
	Raw       string
	Succeeded bool
}

// IsNull reports whether the script returned nothing, which get
// scripts use for "object does not exist".
func (r ExecutionResult) IsNull() bool {
	raw := strings.TrimSpace(r.Raw)
	return raw == "" || raw == "null"
}

// JSON decodes the raw output. A null output decodes to nil. Numbers
// decode as json.Number, matching types.State.Normalize.
func (r ExecutionResult) JSON() (any, error) {
	if r.IsNull() {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(r.Raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, types.NewError(types.KindParse, r.Script, "script output is not JSON", err)
	}
	return v, nil
}

// Outcome reads the {"outcome": "..."} object mutating scripts return.
func (r ExecutionResult) Outcome() (string, error) {
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal([]byte(r.Raw), &body); err != nil || body.Outcome == "" {
		return "", types.NewError(types.KindParse, r.Script, "script output carries no outcome: "+r.Raw, err)
	}
	return body.Outcome, nil
}

// scriptPayload is the body the script API uses for a script resource.
type scriptPayload struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// runResponse is the body returned by the run endpoint, on success and
// when the script raised.
type runResponse struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Client is bound to one server and its credentials.
type Client struct {
	server     types.Server
	httpClient *http.Client
	logger     *telemetry.Logger
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds each request, body read included. The http.Client
// is left untouched, so one passed via WithHTTPClient can be shared.
// Zero leaves calls bounded only by the context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for server. The server is validated up front.
func New(server types.Server, opts ...Option) (*Client, error) {
	if err := server.Validate(); err != nil {
		return nil, types.NewError(types.KindValidation, "client", "invalid server", err)
	}
	c := &Client{
		server:     server,
		httpClient: &http.Client{},
		logger:     telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Server returns the server this client is bound to.
func (c *Client) Server() types.Server {
	return c.server
}

// Register makes sure def is installed under def.Name(). An existing
// script with the same body is left alone; one with a different body is
// a Conflict and is never overwritten.
func (c *Client) Register(ctx context.Context, def scripts.Definition) (RegisterStatus, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "client.register",
		trace.WithAttributes(attribute.String("nexconv.script", def.Name())))
	defer span.End()

	status, err := c.register(ctx, def)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("nexconv.register_status", string(status)))
	c.logger.LogScriptCall(ctx, def.Name(), "register", err)
	return status, err
}

func (c *Client) register(ctx context.Context, def scripts.Definition) (RegisterStatus, error) {
	existing, found, err := c.fetch(ctx, def.Name())
	if err != nil {
		return "", err
	}
	if found {
		return StatusAlreadyExists, compareBodies(def, existing)
	}

	created, err := c.create(ctx, def)
	if err != nil {
		return "", err
	}
	if created {
		telemetry.RecordScriptInstalled(ctx, def.Name())
		return StatusCreated, nil
	}

	// Lost a creation race; whoever won must have installed the same body.
	existing, found, err = c.fetch(ctx, def.Name())
	if err != nil {
		return "", err
	}
	if !found {
		return "", types.NewError(types.KindRemoteExecution, def.Name(), "script rejected on create and not present afterwards", nil)
	}
	return StatusAlreadyExists, compareBodies(def, existing)
}

func compareBodies(def scripts.Definition, existing scriptPayload) error {
	if existing.Content == def.Body && (existing.Type == "" || existing.Type == string(def.Language)) {
		return nil
	}
	return types.NewError(types.KindConflict, def.Name(),
		"a script with this name but a different body is installed; refusing to overwrite", nil)
}

func (c *Client) fetch(ctx context.Context, name string) (scriptPayload, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, scriptPath+"/"+url.PathEscape(name), "", nil)
	if err != nil {
		return scriptPayload{}, false, c.callFailed(ctx, name, "fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return scriptPayload{}, false, c.callFailed(ctx, name, "fetch", types.NewError(types.KindTransport, name, "read response", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.callDone(ctx, name, "fetch", "not_found")
		return scriptPayload{}, false, nil
	case resp.StatusCode == http.StatusOK:
		var payload scriptPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return scriptPayload{}, false, c.callFailed(ctx, name, "fetch", types.NewError(types.KindParse, name, "script resource is not JSON", err))
		}
		c.callDone(ctx, name, "fetch", "ok")
		return payload, true, nil
	default:
		return scriptPayload{}, false, c.callFailed(ctx, name, "fetch", statusError(name, resp.StatusCode, body))
	}
}

// create POSTs the script; false means the server already had one.
func (c *Client) create(ctx context.Context, def scripts.Definition) (bool, error) {
	payload, err := json.Marshal(scriptPayload{
		Name:    def.Name(),
		Type:    string(def.Language),
		Content: def.Body,
	})
	if err != nil {
		return false, types.NewError(types.KindValidation, def.Name(), "encode script", err)
	}

	resp, err := c.do(ctx, http.MethodPost, scriptPath, "application/json", payload)
	if err != nil {
		return false, c.callFailed(ctx, def.Name(), "create", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, c.callFailed(ctx, def.Name(), "create", types.NewError(types.KindTransport, def.Name(), "read response", err))
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		c.callDone(ctx, def.Name(), "create", "ok")
		return true, nil
	case http.StatusBadRequest, http.StatusConflict:
		c.callDone(ctx, def.Name(), "create", "exists")
		return false, nil
	default:
		return false, c.callFailed(ctx, def.Name(), "create", statusError(def.Name(), resp.StatusCode, body))
	}
}

// Run executes the named script. String payloads are sent verbatim,
// anything else is JSON-encoded. A script that raised is reported as a
// RemoteExecution error carrying the server's message.
func (c *Client) Run(ctx context.Context, name string, payload any) (ExecutionResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "client.run",
		trace.WithAttributes(attribute.String("nexconv.script", name)))
	defer span.End()

	result, err := c.run(ctx, name, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.logger.LogScriptCall(ctx, name, "run", err)
	return result, err
}

func (c *Client) run(ctx context.Context, name string, payload any) (ExecutionResult, error) {
	arg, err := encodeArgument(payload)
	if err != nil {
		return ExecutionResult{}, types.NewError(types.KindValidation, name, "encode argument", err)
	}

	resp, err := c.do(ctx, http.MethodPost, scriptPath+"/"+url.PathEscape(name)+"/run", "text/plain", arg)
	if err != nil {
		return ExecutionResult{}, c.callFailed(ctx, name, "run", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutionResult{}, c.callFailed(ctx, name, "run", types.NewError(types.KindTransport, name, "read response", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out runResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return ExecutionResult{}, c.callFailed(ctx, name, "run", types.NewError(types.KindParse, name, "run response is not JSON", err))
		}
		c.callDone(ctx, name, "run", "ok")
		return ExecutionResult{Script: name, Raw: out.Result, Succeeded: true}, nil
	case resp.StatusCode == http.StatusNotFound:
		return ExecutionResult{}, c.callFailed(ctx, name, "run",
			types.NewError(types.KindRemoteExecution, name, "script is not installed on the server", nil))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode >= http.StatusInternalServerError:
		var out runResponse
		if err := json.Unmarshal(body, &out); err == nil && out.Result != "" {
			return ExecutionResult{Script: name, Raw: out.Result}, c.callFailed(ctx, name, "run",
				types.NewError(types.KindRemoteExecution, name, out.Result, nil))
		}
		return ExecutionResult{}, c.callFailed(ctx, name, "run", statusError(name, resp.StatusCode, body))
	default:
		return ExecutionResult{}, c.callFailed(ctx, name, "run", statusError(name, resp.StatusCode, body))
	}
}

func encodeArgument(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server.BaseURL()+path, reader)
	if err != nil {
		cancel()
		return nil, types.NewError(types.KindValidation, path, "build request", err)
	}
	req.SetBasicAuth(c.server.Username, c.server.Password)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, types.NewError(types.KindTransport, path, fmt.Sprintf("%s %s", method, c.server.BaseURL()+path), err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the per-request timeout once the body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func statusError(name string, status int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.KindAuth, name, msg, nil)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.NewError(types.KindTransport, name, msg, nil)
	default:
		return types.NewError(types.KindRemoteExecution, name, msg, nil)
	}
}

func (c *Client) callDone(ctx context.Context, name, phase, status string) {
	telemetry.RecordScriptCall(ctx, name, phase, status)
}

func (c *Client) callFailed(ctx context.Context, name, phase string, err error) error {
	telemetry.RecordScriptCall(ctx, name, phase, string(types.KindOf(err)))
	return err
}
