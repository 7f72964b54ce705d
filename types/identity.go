package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Server is the scripting endpoint of one repository manager together
// with the credentials used against it.
type Server struct {
	Endpoint string `json:"endpoint"` // e.g. http://localhost:8081/service/rest
	Username string `json:"username"`
	Password string `json:"-"`
}

// Validate checks the endpoint is an absolute http(s) URL and a user is set.
func (s Server) Validate() error {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint %q: %w", s.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q: scheme must be http or https", s.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q: host is required", s.Endpoint)
	}
	if s.Username == "" {
		return fmt.Errorf("endpoint %q: username is required", s.Endpoint)
	}
	return nil
}

// BaseURL returns the endpoint without a trailing slash.
func (s Server) BaseURL() string {
	return strings.TrimRight(s.Endpoint, "/")
}

// Identity names one managed object on one server.
type Identity struct {
	Name   string `json:"name"`
	Server Server `json:"server"`
}

// Key returns a unique key for the object across servers.
func (i Identity) Key() string {
	return i.Server.BaseURL() + "|" + i.Name
}

// String is used in logs and error messages; it never includes credentials.
func (i Identity) String() string {
	return i.Name + "@" + i.Server.BaseURL()
}
