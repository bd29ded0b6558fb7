package internal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/dMeta/lib/db"
)

func TestSizeBytes(t *testing.T) {
	cmd := Command{Type: CommandTPutE, Key: "testkey", Timestamp: 1, TTL: 100, Value: []byte("testvalue")}
	if got, want := cmd.SizeBytes(), headerSize+7+9; got != want {
		t.Errorf("SizeBytes() = %d, want %d", got, want)
	}
	if got := len(cmd.Serialize()); got != cmd.SizeBytes() {
		t.Errorf("len(Serialize()) = %d, SizeBytes() = %d", got, cmd.SizeBytes())
	}
}

func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name:    "compare and swap with ttl",
			command: Command{Type: CommandTCompareAndSwapE, Key: "lock", Timestamp: 1700000000000, Expected: 3, TTL: 5000, Value: []byte("owner")},
		},
		{
			name:    "delete without value",
			command: Command{Type: CommandTDelete, Key: "testkey", Timestamp: 42},
		},
		{
			name:    "unicode key and binary value",
			command: Command{Type: CommandTPut, Key: "你好世界", Value: []byte{0, 1, 2, 254, 255}},
		},
		{
			name:    "max values",
			command: Command{Type: CommandTCompareAndDelete, Key: "k", Timestamp: ^uint64(0), Expected: ^uint64(0), TTL: ^uint64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Command
			if err := got.Deserialize(tt.command.Serialize()); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if got.Type != tt.command.Type || got.Key != tt.command.Key || got.Timestamp != tt.command.Timestamp ||
				got.Expected != tt.command.Expected || got.TTL != tt.command.TTL {
				t.Errorf("Deserialize() = %+v, want %+v", got, tt.command)
			}
			if !bytes.Equal(got.Value, tt.command.Value) {
				t.Errorf("Value = %v, want %v", got.Value, tt.command.Value)
			}
		})
	}
}

func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTPut)
				binary.BigEndian.PutUint32(data[25:29], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:      CommandTCompareAndSwap,
		Key:       "testkey",
		Timestamp: 12345,
		Expected:  7,
		TTL:       67890,
		Value:     []byte("testvalue"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTCompareAndSwap)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint64(expected[9:17], 7)
	binary.BigEndian.PutUint64(expected[17:25], 67890)
	binary.BigEndian.PutUint32(expected[25:29], 7)
	copy(expected[29:36], "testkey")
	copy(expected[36:], "testvalue")

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

func TestExpireAt(t *testing.T) {
	if got := (&Command{Timestamp: 1000}).ExpireAt(); got != 0 {
		t.Errorf("ExpireAt() without ttl = %d, want 0", got)
	}
	if got := (&Command{Timestamp: 1000, TTL: 500}).ExpireAt(); got != 1500 {
		t.Errorf("ExpireAt() = %d, want 1500", got)
	}
}

func TestToDBFeature(t *testing.T) {
	feat, err := CommandTCompareAndSwapE.ToDBFeature()
	if err != nil {
		t.Fatalf("ToDBFeature() error = %v", err)
	}
	if feat != db.FeatureCompareAndSwap|db.FeatureExpire {
		t.Errorf("ToDBFeature() = %d", feat)
	}
	if _, err := CommandType(99).ToDBFeature(); err == nil {
		t.Error("ToDBFeature() of an unknown type returned no error")
	}
}

func TestResultData(t *testing.T) {
	for _, want := range []ResultData{{Version: 0}, {Version: 7, Existed: true}} {
		got, err := DecodeResultData(want.Encode())
		if err != nil || got != want {
			t.Errorf("DecodeResultData(Encode(%+v)) = %+v, %v", want, got, err)
		}
	}
	if _, err := DecodeResultData([]byte{1, 2}); err == nil {
		t.Error("DecodeResultData() of short data returned no error")
	}
}
