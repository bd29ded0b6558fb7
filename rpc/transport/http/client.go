package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	endpoints  []string
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
}

// baseURL turns an endpoint into an url, host:port endpoints get the http scheme
func baseURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "http://" + endpoint
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	t.endpoints = make([]string, len(config.Endpoints))
	for i, endpoint := range config.Endpoints {
		t.endpoints[i] = baseURL(endpoint)
	}

	idleTimeout := config.Timeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	t.client = &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: max(config.ConnectionsPerEndpoint, 10),
			IdleConnTimeout:     idleTimeout,
		},
	}
	t.retryCount = max(config.RetryCount, 1)
	return nil
}

func (t *httpClientTransport) Send(serviceID uint64, req []byte) ([]byte, error) {
	if len(t.endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	idx := t.counter.Add(1) % uint32(len(t.endpoints))
	return t.post(t.endpoints[idx], serviceID, req)
}

func (t *httpClientTransport) SendTo(endpoint string, serviceID uint64, req []byte) ([]byte, error) {
	return t.post(baseURL(endpoint), serviceID, req)
}

func (t *httpClientTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	t.client = nil
	t.endpoints = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *httpClientTransport) post(url string, serviceID uint64, req []byte) ([]byte, error) {
	client := t.client
	if client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}
	requestURL := fmt.Sprintf("%s/%d", url, serviceID)

	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		// a request body can only be read once, so every attempt builds a new request
		resp, err := client.Post(requestURL, "application/octet-stream", bytes.NewReader(req))
		if err != nil {
			lastErr = err
			continue
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http error: %s", resp.Status)
		}
		return data, err
	}
	return nil, lastErr
}
