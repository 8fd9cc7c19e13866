package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP listener. The header timeout comes from config; the
// idle timeout is fixed well above the sweep interval so long-polling
// clients survive quiet periods.
func New(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}
