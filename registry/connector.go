package registry

import (
	"net/http"
	"time"

	"github.com/yairfalse/nexconv/client"
	"github.com/yairfalse/nexconv/executor"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/types"
)

// Connector builds a Runner for whichever server a request names. All
// runners share one http.Client so connections are reused; credentials
// and the timeout stay with each request.
type Connector struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *telemetry.Logger
}

// NewConnector creates a connector. A zero timeout leaves calls bounded
// only by their context.
func NewConnector(timeout time.Duration, logger *telemetry.Logger) *Connector {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Connector{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger,
	}
}

// RunnerFor returns an ensure-then-run runner bound to server.
func (c *Connector) RunnerFor(server types.Server) (executor.ScriptRunner, error) {
	return c.Runner(server)
}

// Runner is RunnerFor with the concrete type, for callers that also
// need Ensure or EnsureAll.
func (c *Connector) Runner(server types.Server) (*Runner, error) {
	api, err := client.New(server,
		client.WithHTTPClient(c.httpClient),
		client.WithTimeout(c.timeout),
		client.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	return NewRunner(api), nil
}
