package transport

import (
	"io"

	"github.com/ValentinKolb/dMeta/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the id of the service the request is addressed to and the request
// and returns the response
type ServerHandleFunc func(serviceID uint64, req []byte) (resp []byte)

// MetricsWriter writes metrics in the Prometheus text format
type MetricsWriter func(w io.Writer)

// IRPCServerTransport is the interface for the server side of the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that is called for every request.
	// It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// RegisterMetrics registers the metrics of the server. Transports that speak
	// http expose them at GET /metrics, others ignore them.
	RegisterMetrics(metrics MetricsWriter)
	// Listen starts listening on the endpoint of the config and serves requests in
	// the background until Close is called
	Listen(config common.ServerConfig) error
	// Close stops listening and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration.
	// Connections to the configured endpoints are established eagerly, connections
	// to other endpoints on their first use.
	Connect(config common.ClientConfig) error
	// Send sends a request to one of the configured endpoints (round-robin) and
	// returns the response
	Send(serviceID uint64, req []byte) (resp []byte, err error)
	// SendTo sends a request to the given endpoint, which does not need to be one
	// of the configured endpoints (e.g. a leader hint or another raft node)
	SendTo(endpoint string, serviceID uint64, req []byte) (resp []byte, err error)
	// Close closes all connections
	Close() error
}
