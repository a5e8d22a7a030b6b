// Package httpserver constructs the API server shared by the permit and
// scan endpoints.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the given handler. ReadHeaderTimeout bounds
// slow-header clients; per-request deadlines come from middleware so scan
// verification stays snappy without capping long permit listings here.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
