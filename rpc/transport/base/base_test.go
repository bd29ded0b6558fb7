package base

import (
	"bytes"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/rpc/common"
)

type unixConnector struct{}

func (unixConnector) GetName() string { return "unix" }

func (unixConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("unix", config.Endpoint)
}

func (unixConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func (unixConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

type unixClientConnector struct{ unixConnector }

func (unixClientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

// startEchoServer starts a server that answers with the service id and the request
func startEchoServer(t *testing.T, path string) func() error {
	t.Helper()
	srv := NewBaseServerTransport(unixConnector{}, 1024, 4)
	srv.RegisterHandler(func(serviceID uint64, req []byte) []byte {
		return append([]byte(fmt.Sprintf("%d:", serviceID)), req...)
	})
	if err := srv.Listen(common.ServerConfig{Endpoint: path, Timeout: time.Second}); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv.Close
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, 7, 42, []byte("payload")); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}
	if err := writeFrame(&buf, 8, 43, nil); err != nil {
		t.Fatalf("writeFrame() error = %v", err)
	}

	for _, want := range []struct {
		service, request uint64
		data             string
	}{{7, 42, "payload"}, {8, 43, ""}} {
		service, request, data, err := readFrame(&buf, nil)
		if err != nil {
			t.Fatalf("readFrame() error = %v", err)
		}
		if service != want.service || request != want.request || string(data) != want.data {
			t.Errorf("readFrame() = %d, %d, %q, want %+v", service, request, data, want)
		}
	}
	if _, _, _, err := readFrame(&buf, nil); err == nil {
		t.Error("readFrame() after the last frame returned no error")
	}
}

func TestSendAndSendTo(t *testing.T) {
	dir := t.TempDir()
	first, second := filepath.Join(dir, "a.sock"), filepath.Join(dir, "b.sock")
	startEchoServer(t, first)
	startEchoServer(t, second)

	client := NewBaseClientTransport(unixClientConnector{})
	if err := client.Connect(common.ClientConfig{
		Endpoints:              []string{first},
		Timeout:                time.Second,
		ConnectionsPerEndpoint: 2,
	}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := []byte(fmt.Sprintf("req-%d", i))
			resp, err := client.Send(100, req)
			if err != nil || string(resp) != "100:"+string(req) {
				t.Errorf("Send() = %q, %v", resp, err)
			}
		}(i)
	}
	wg.Wait()

	// an endpoint that was not configured is connected on first use
	resp, err := client.SendTo(second, 400, []byte("x"))
	if err != nil || string(resp) != "400:x" {
		t.Errorf("SendTo() = %q, %v", resp, err)
	}
}

func TestReconnectAfterServerRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sock")
	stop := startEchoServer(t, path)

	client := NewBaseClientTransport(unixClientConnector{})
	if err := client.Connect(common.ClientConfig{Endpoints: []string{path}, Timeout: time.Second, RetryCount: 3}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Send(1, []byte("a")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if err := stop(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := client.Send(1, []byte("b")); err == nil {
		t.Fatal("Send() to a stopped server returned no error")
	}

	startEchoServer(t, path)
	resp, err := client.Send(1, []byte("c"))
	if err != nil || string(resp) != "1:c" {
		t.Errorf("Send() after restart = %q, %v", resp, err)
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	client := NewBaseClientTransport(unixClientConnector{})
	err := client.Connect(common.ClientConfig{Endpoints: []string{filepath.Join(t.TempDir(), "missing.sock")}, Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Error("Connect() without server returned no error")
	}

	// without endpoints nothing is connected eagerly
	if err := client.Connect(common.ClientConfig{}); err != nil {
		t.Errorf("Connect() without endpoints error = %v", err)
	}
	if _, err := client.Send(1, nil); err == nil {
		t.Error("Send() without endpoints returned no error")
	}
}
