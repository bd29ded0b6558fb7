package common

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/cockroachdb/errors"
)

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers([]string{"1=localhost:8080", " 2=10.0.0.2:8080"})
	if err != nil {
		t.Fatalf("ParsePeers() error = %v", err)
	}
	want := map[uint64]string{1: "localhost:8080", 2: "10.0.0.2:8080"}
	if !reflect.DeepEqual(peers, want) {
		t.Errorf("ParsePeers() = %v, want %v", peers, want)
	}

	for _, invalid := range [][]string{{"localhost:8080"}, {"0=a"}, {"x=a"}, {"1="}, {"1=a", "1=b"}} {
		if _, err := ParsePeers(invalid); err == nil {
			t.Errorf("ParsePeers(%v) returned no error", invalid)
		}
	}
}

func TestToRaftConfig(t *testing.T) {
	single := ServerConfig{NodeID: 3, Endpoint: ":8080", Advertise: "node3:8080", SnapshotEntries: 100}
	cfg := single.ToRaftConfig()
	if cfg.ID != 3 || cfg.Addr != "node3:8080" || cfg.SnapshotEntries != 100 {
		t.Errorf("ToRaftConfig() = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Peers, map[uint64]string{3: "node3:8080"}) {
		t.Errorf("single node peers = %v", cfg.Peers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	joining := ServerConfig{NodeID: 4, Endpoint: ":8080", Join: []string{"node1:8080"}}
	if cfg := joining.ToRaftConfig(); len(cfg.Peers) != 0 {
		t.Errorf("joining node has peers %v", cfg.Peers)
	}
}

func TestMessageErrors(t *testing.T) {
	msg := NewVersionResponse(MsgTKVPut, 0, store.NewNotLeaderError("node-2:8080"))
	err := msg.Error()
	if store.CodeOf(err) != store.RetCNotLeader {
		t.Fatalf("Error() = %v, want NotLeader", err)
	}
	var e *store.Error
	if !errors.As(err, &e) || e.Leader != "node-2:8080" || e.Msg != "node is not the leader" {
		t.Errorf("Error() = %+v", e)
	}

	if err := NewOkResponse(MsgTKVDelete, true, nil).Error(); err != nil {
		t.Errorf("Error() of a successful response = %v", err)
	}
	if code := store.CodeOf(NewGetResponse(nil, 0, false, errors.New("disk on fire")).Error()); code != store.RetCInternalError {
		t.Errorf("code of a plain error = %s", code)
	}
	if code := store.CodeOf(NewErrorResponse("bad request").Error()); code != store.RetCInvalidOperation {
		t.Errorf("code of an error response = %s", code)
	}
}

func TestTTL(t *testing.T) {
	if got := NewPutERequest("k", nil, 1500*time.Millisecond).TTL; got != 1500 {
		t.Errorf("TTL = %d, want 1500", got)
	}
	if got := NewPutERequest("k", nil, time.Microsecond).TTL; got != 1 {
		t.Errorf("TTL below one ms = %d, want 1", got)
	}
	if got := NewAcquireRequest("k", 0).TTL; got != 0 {
		t.Errorf("TTL = %d, want 0", got)
	}
	if got := (&Message{TTL: 20}).TTLDuration(); got != 20*time.Millisecond {
		t.Errorf("TTLDuration() = %s", got)
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for typ := MsgTSuccess; typ <= MsgTRaft; typ++ {
		data, err := json.Marshal(typ)
		if err != nil {
			t.Fatalf("Marshal(%d) error = %v", typ, err)
		}
		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil || got != typ {
			t.Errorf("Unmarshal(%s) = %d, %v, want %d", data, got, err, typ)
		}
	}
	var got MessageType
	if err := json.Unmarshal([]byte(`"nope"`), &got); err == nil {
		t.Error("Unmarshal of an unknown type returned no error")
	}
}
