package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/hashicorp/go-multierror"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector         IServerConnector
	handler           transport.ServerHandleFunc
	config            common.ServerConfig
	listener          net.Listener
	bufferPool        *sync.Pool
	maxWorkersPerConn int

	closed  atomic.Bool
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with a per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int, maxWorkersPerConn int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:         connector,
		maxWorkersPerConn: max(maxWorkersPerConn, 1), // minimum one worker per connection
		conns:             make(map[net.Conn]struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

// RegisterMetrics is a no-op, the framed transports do not speak http
func (t *serverTransport) RegisterMetrics(transport.MetricsWriter) {}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config
	if config.Transport.WorkersPerConn > 0 {
		t.maxWorkersPerConn = config.Transport.WorkersPerConn
	}

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	log.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Endpoint, t.maxWorkersPerConn)

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *serverTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	var result *multierror.Error
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	t.connsMu.Lock()
	for conn := range t.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.connsMu.Unlock()

	t.wg.Wait()
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			log.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.connsMu.Lock()
		if t.closed.Load() {
			t.connsMu.Unlock()
			_ = conn.Close()
			return
		}
		t.conns[conn] = struct{}{}
		t.connsMu.Unlock()

		// Handle the connection in a goroutine
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)

			t.connsMu.Lock()
			delete(t.conns, conn)
			t.connsMu.Unlock()
		}()
	}
}

// handleConnection handles incoming requests for one connection
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	timeout := t.config.Timeout

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, t.maxWorkersPerConn)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Create a mutex to protect writes to the connection
	var connMutex sync.Mutex

	// Handler function that processes requests in worker goroutines
	handleResponse := func(serviceID, requestID uint64, data []byte) {
		start := time.Now()
		resp := t.handler(serviceID, data)
		log.Debugf("Processed request for service %d with requestID %d took %s", serviceID, requestID, time.Since(start))

		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				log.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}

		// Write the response with the same requestID
		if err := writeFrame(conn, serviceID, requestID, resp); err != nil {
			log.Errorf("Failed to write response: %v", err)
		}
	}

	// Handle requests in a loop
	for {
		buf := t.bufferPool.Get().([]byte)

		serviceID, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case err == io.EOF:
				log.Debugf("Connection closed by client %s", conn.RemoteAddr())
			case t.closed.Load() || errors.Is(err, net.ErrClosed):
			default:
				log.Errorf("Error handling request: %v", err)
			}
			break
		}

		// Acquire a slot in the semaphore (blocks if maxWorkersPerConn is reached)
		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer func() {
				t.bufferPool.Put(buf)
				<-workerSemaphore
				wg.Done()
			}()
			handleResponse(serviceID, requestID, data)
		}()
	}

	// Wait for all workers to finish before closing the connection
	wg.Wait()
}
