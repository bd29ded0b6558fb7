package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("transport/rpc")

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	metrics transport.MetricsWriter
	config  common.ServerConfig
	server  *http.Server
	wg      sync.WaitGroup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) RegisterMetrics(metrics transport.MetricsWriter) {
	t.metrics = metrics
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	mux := http.NewServeMux()
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("POST /{serviceId}", loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST /{serviceId}", t.handleRequest)
	}
	mux.HandleFunc("GET /metrics", t.handleMetrics)

	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Endpoint, err)
	}

	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Infof("Starting HTTP server on %s", config.Endpoint)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server stopped: %v", err)
		}
	}()
	return nil
}

func (t *httpServerTransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := t.server.Shutdown(ctx)
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseUint(r.PathValue("serviceId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid serviceId", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	resp := t.handler(serviceID, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		log.Debugf("Failed to write response: %v", err)
	}
}

// handleMetrics writes the registered metrics in the Prometheus text format
func (t *httpServerTransport) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if t.metrics == nil {
		http.Error(w, "no metrics registered", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	t.metrics(w)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(rw, r)

		log.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
