package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present. Booleans are stored
// in the flags only.
const (
	hasKey     uint16 = 1 << 0
	hasValue   uint16 = 1 << 1
	hasVersion uint16 = 1 << 2
	hasTTL     uint16 = 1 << 3
	isStale    uint16 = 1 << 4
	hasNodeID  uint16 = 1 << 5
	hasAddr    uint16 = 1 << 6
	isOk       uint16 = 1 << 7
	hasCode    uint16 = 1 << 8
	hasErr     uint16 = 1 << 9
	hasLeader  uint16 = 1 << 10
	hasMeta    uint16 = 1 << 11
)

// MsgType (1 byte) + flags (2 bytes)
const binaryHeaderSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if msg.Code > 0xff {
		return nil, fmt.Errorf("return code %d does not fit into one byte", msg.Code)
	}

	// Allocate the full size once
	result := make([]byte, binaryHeaderSize, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16

	appendBytes := func(flag uint16, data []byte) {
		flags |= flag
		result = binary.BigEndian.AppendUint32(result, uint32(len(data)))
		result = append(result, data...)
	}
	appendUint64 := func(flag uint16, v uint64) {
		flags |= flag
		result = binary.BigEndian.AppendUint64(result, v)
	}

	// the order of the fields must match Deserialize
	if msg.Key != "" {
		appendBytes(hasKey, []byte(msg.Key))
	}
	if msg.Value != nil {
		appendBytes(hasValue, msg.Value)
	}
	if msg.Version > 0 {
		appendUint64(hasVersion, msg.Version)
	}
	if msg.TTL > 0 {
		appendUint64(hasTTL, msg.TTL)
	}
	if msg.Stale {
		flags |= isStale
	}
	if msg.NodeID > 0 {
		appendUint64(hasNodeID, msg.NodeID)
	}
	if msg.Addr != "" {
		appendBytes(hasAddr, []byte(msg.Addr))
	}
	if msg.Ok {
		flags |= isOk
	}
	if msg.Code != store.RetCSuccess {
		flags |= hasCode
		result = append(result, byte(msg.Code))
	}
	if msg.Err != "" {
		appendBytes(hasErr, []byte(msg.Err))
	}
	if msg.Leader != "" {
		appendBytes(hasLeader, []byte(msg.Leader))
	}
	if msg.Meta != nil {
		appendBytes(hasMeta, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < binaryHeaderSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	pos := binaryHeaderSize

	readBytes := func(field string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n > len(data)-pos {
			return nil, fmt.Errorf("data too short for %s data", field)
		}
		// copy, the buffer of the transport is reused
		out := make([]byte, n)
		copy(out, data[pos:pos+n])
		pos += n
		return out, nil
	}
	readUint64 := func(field string) (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("data too short for %s", field)
		}
		v := binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
		return v, nil
	}
	readString := func(field string) (string, error) {
		b, err := readBytes(field)
		return string(b), err
	}

	var err error
	if flags&hasKey != 0 {
		if msg.Key, err = readString("key"); err != nil {
			return err
		}
	}
	if flags&hasValue != 0 {
		if msg.Value, err = readBytes("value"); err != nil {
			return err
		}
	}
	if flags&hasVersion != 0 {
		if msg.Version, err = readUint64("version"); err != nil {
			return err
		}
	}
	if flags&hasTTL != 0 {
		if msg.TTL, err = readUint64("ttl"); err != nil {
			return err
		}
	}
	msg.Stale = flags&isStale != 0
	if flags&hasNodeID != 0 {
		if msg.NodeID, err = readUint64("node id"); err != nil {
			return err
		}
	}
	if flags&hasAddr != 0 {
		if msg.Addr, err = readString("addr"); err != nil {
			return err
		}
	}
	msg.Ok = flags&isOk != 0
	if flags&hasCode != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for code")
		}
		msg.Code = store.RetCode(data[pos])
		pos++
	}
	if flags&hasErr != 0 {
		if msg.Err, err = readString("error"); err != nil {
			return err
		}
	}
	if flags&hasLeader != 0 {
		if msg.Leader, err = readString("leader"); err != nil {
			return err
		}
	}
	if flags&hasMeta != 0 {
		if msg.Meta, err = readBytes("meta"); err != nil {
			return err
		}
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := binaryHeaderSize

	// Add sizes for fields that require length encoding
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Version > 0 {
		size += 8
	}
	if msg.TTL > 0 {
		size += 8
	}
	if msg.NodeID > 0 {
		size += 8
	}
	if msg.Addr != "" {
		size += 4 + len(msg.Addr)
	}
	if msg.Code != store.RetCSuccess {
		size += 1
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Leader != "" {
		size += 4 + len(msg.Leader)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}

	return size
}
