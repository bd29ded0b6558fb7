package base

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// session is one established net connection and the requests waiting for a
// response on it. A broken session is dropped and replaced on the next request.
type session struct {
	conn    net.Conn
	pending *xsync.MapOf[uint64, chan responseResult]
	closed  atomic.Bool
}

// clientConnection is one of the connections to an endpoint
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	mu       sync.Mutex // protects sess and writes to it
	sess     *session
}

// endpointPool holds the connections to one endpoint
type endpointPool struct {
	conns []*clientConnection
	next  atomic.Uint64 // round-robin counter
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	pools         *xsync.MapOf[string, *endpointPool]
	nextEndpoint  atomic.Uint64
	nextRequestID atomic.Uint64
	closed        atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		pools:     xsync.NewMapOf[string, *endpointPool](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	t.closeConnections()
	t.config = config
	t.closed.Store(false)

	// Establish the connections to the configured endpoints
	connected, total := 0, 0
	for _, endpoint := range config.Endpoints {
		pool := t.pool(endpoint)
		for i, conn := range pool.conns {
			total++
			if _, err := conn.session(); err != nil {
				log.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, len(pool.conns), err)
				continue
			}
			connected++
		}
	}

	// Check if we have at least one connection
	if len(config.Endpoints) > 0 && connected == 0 {
		return fmt.Errorf("failed to connect to any endpoint")
	}

	if total > 0 {
		log.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
			connected, total, len(config.Endpoints), t.connector.GetName())
	}
	return nil
}

func (t *clientTransport) Send(serviceID uint64, req []byte) ([]byte, error) {
	endpoints := t.config.Endpoints
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	return t.withRetries(func() ([]byte, error) {
		endpoint := endpoints[t.nextEndpoint.Add(1)%uint64(len(endpoints))]
		return t.sendOnce(endpoint, serviceID, req)
	})
}

func (t *clientTransport) SendTo(endpoint string, serviceID uint64, req []byte) ([]byte, error) {
	return t.withRetries(func() ([]byte, error) {
		return t.sendOnce(endpoint, serviceID, req)
	})
}

func (t *clientTransport) Close() error {
	t.closed.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// withRetries calls send up to RetryCount times with exponential backoff
func (t *clientTransport) withRetries(send func() ([]byte, error)) ([]byte, error) {
	maxRetries := max(t.config.RetryCount, 1)

	// Initial backoff duration in milliseconds
	backoffMs := 50

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if t.closed.Load() {
			return nil, fmt.Errorf("transport closed")
		}

		data, err := send()
		if err == nil {
			return data, nil
		}
		lastErr = err
		log.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if i+1 < maxRetries {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter) * time.Millisecond)
			backoffMs *= 2
		}
	}

	if maxRetries == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, lastErr)
}

// pool returns the connection pool of an endpoint, the pool is created on first use
func (t *clientTransport) pool(endpoint string) *endpointPool {
	pool, _ := t.pools.LoadOrCompute(endpoint, func() *endpointPool {
		n := max(t.config.ConnectionsPerEndpoint, 1)
		pool := &endpointPool{conns: make([]*clientConnection, n)}
		for i := range pool.conns {
			pool.conns[i] = &clientConnection{endpoint: endpoint, parent: t}
		}
		return pool
	})
	return pool
}

// sendOnce sends a request on the next connection (round-robin) to the endpoint
func (t *clientTransport) sendOnce(endpoint string, serviceID uint64, req []byte) ([]byte, error) {
	pool := t.pool(endpoint)
	conn := pool.conns[0]
	if len(pool.conns) > 1 {
		conn = pool.conns[pool.next.Add(1)%uint64(len(pool.conns))]
	}
	return conn.roundTrip(serviceID, t.nextRequestID.Add(1), req)
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.pools.Range(func(endpoint string, pool *endpointPool) bool {
		for _, conn := range pool.conns {
			conn.mu.Lock()
			sess := conn.sess
			conn.mu.Unlock()
			if sess != nil {
				conn.drop(sess, fmt.Errorf("transport closed"))
			}
		}
		t.pools.Delete(endpoint)
		return true
	})
}

// session returns the current session and establishes a new one if there is none
func (c *clientConnection) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && !c.sess.closed.Load() {
		return c.sess, nil
	}

	cfg := c.parent.config
	conn, err := c.parent.connector.Connect(c.endpoint, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, cfg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}

	c.sess = &session{
		conn:    conn,
		pending: xsync.NewMapOf[uint64, chan responseResult](),
	}
	go c.readResponses(c.sess)
	return c.sess, nil
}

// roundTrip writes a request and waits for its response
func (c *clientConnection) roundTrip(serviceID, requestID uint64, req []byte) ([]byte, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}

	// Register the request before writing it, the response may arrive immediately
	respCh := make(chan responseResult, 1)
	sess.pending.Store(requestID, respCh)
	defer sess.pending.Delete(requestID)
	if sess.closed.Load() {
		return nil, fmt.Errorf("connection to %s closed", c.endpoint)
	}

	timeout := c.parent.config.Timeout

	// Lock the connection only for writing
	c.mu.Lock()
	if timeout > 0 {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err = writeFrame(sess.conn, serviceID, requestID, req)
	c.mu.Unlock()

	if err != nil {
		c.drop(sess, err)
		return nil, err
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request to %s timed out after %s", c.endpoint, timeout)
	}
}

// drop closes a session and fails all requests waiting on it
func (c *clientConnection) drop(sess *session, cause error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()

	if sess.closed.Swap(true) {
		return
	}
	_ = sess.conn.Close()

	sess.pending.Range(func(_ uint64, ch chan responseResult) bool {
		select {
		case ch <- responseResult{err: cause}:
		default:
		}
		return true
	})
}

// readResponses reads responses in a loop and distributes them to waiting requests
func (c *clientConnection) readResponses(sess *session) {
	for {
		serviceID, requestID, data, err := readFrame(sess.conn, nil)
		if err != nil {
			if !sess.closed.Load() {
				log.Debugf("Connection to %s lost: %v", c.endpoint, err)
			}
			c.drop(sess, fmt.Errorf("connection to %s lost: %w", c.endpoint, err))
			return
		}

		respCh, found := sess.pending.Load(requestID)
		if !found {
			// the request timed out in the meantime
			log.Debugf("Received response for unknown request ID %d with service ID %d", requestID, serviceID)
			continue
		}
		select {
		case respCh <- responseResult{data: data}:
		default:
		}
	}
}
