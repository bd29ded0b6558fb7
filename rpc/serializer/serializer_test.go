package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Put request
		{
			MsgType: common.MsgTKVPut,
			Key:     "test-key",
			Value:   []byte("test-value"),
		},

		// Compare and swap with ttl
		{
			MsgType: common.MsgTKVCompareAndSwapE,
			Key:     "test-key",
			Value:   []byte("test-value"),
			Version: 42,
			TTL:     5000,
		},

		// Stale get request
		{
			MsgType: common.MsgTKVGet,
			Key:     "test-key",
			Stale:   true,
		},

		// Get response
		{
			MsgType: common.MsgTKVGet,
			Value:   []byte("test-value"),
			Version: 7,
			Ok:      true,
		},

		// Not leader response
		{
			MsgType: common.MsgTKVPut,
			Code:    store.RetCNotLeader,
			Err:     "node is not the leader",
			Leader:  "10.0.0.1:8080",
		},

		// Join request
		{
			MsgType: common.MsgTCLJoin,
			NodeID:  4,
			Addr:    "node-4:8080",
		},

		// Raft message
		{
			MsgType: common.MsgTRaft,
			Meta:    []byte{0, 1, 2, 3, 255},
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for msgType := common.MsgTSuccess; msgType <= common.MsgTRaft; msgType++ {
				data, err := serializer.Serialize(common.Message{MsgType: msgType})
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType, err)
					continue
				}

				var result common.Message
				if err := serializer.Deserialize(data, &result); err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType, err)
					continue
				}
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s", msgType, result.MsgType)
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests edge cases of the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty value slice but not nil",
			msg:  common.Message{MsgType: common.MsgTKVPut, Key: "test", Value: []byte{}},
		},
		{
			name: "Empty meta slice but not nil",
			msg:  common.Message{MsgType: common.MsgTRaft, Meta: []byte{}},
		},
		{
			name: "Only boolean flags",
			msg:  common.Message{MsgType: common.MsgTKVGet, Ok: true, Stale: true},
		},
		{
			name: "All fields",
			msg: common.Message{
				MsgType: common.MsgTLCKAcquire,
				Key:     "lock",
				Value:   []byte("owner"),
				Version: 1,
				TTL:     2,
				Stale:   true,
				NodeID:  3,
				Addr:    "addr",
				Ok:      true,
				Code:    store.RetCUnavailable,
				Err:     "err",
				Leader:  "leader",
				Meta:    []byte("meta"),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// nil and empty slices are kept apart
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("round trip mismatch:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}
		})
	}
}

// TestBinaryDeserializeResets tests that a reused message does not keep old fields
func TestBinaryDeserializeResets(t *testing.T) {
	serializer := NewBinarySerializer()
	data, _ := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})

	msg := common.Message{MsgType: common.MsgTKVGet, Key: "old", Ok: true, Value: []byte("old")}
	if err := serializer.Deserialize(data, &msg); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if !reflect.DeepEqual(msg, common.Message{MsgType: common.MsgTSuccess}) {
		t.Errorf("Deserialize() kept old fields: %+v", msg)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and half of the flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 2, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Missing version",
			data:        []byte{1, 0, 4, 0, 0, 0}, // Version flag with only 3 bytes
			expectError: true,
		},
		{
			name:        "Trailing bytes",
			data:        []byte{1, 0, 0, 42},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names {
		if s, err := New(name); err != nil || s == nil {
			t.Errorf("New(%q) = %v, %v", name, s, err)
		}
	}
	if _, err := New("xml"); err == nil {
		t.Error("New(xml) returned no error")
	}
}
