package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/cockroachdb/errors"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTPut              CommandType = iota // Insert or update an entry.
	CommandTPutE                                // Insert or update an entry with a time to live.
	CommandTCompareAndSwap                      // Write an entry if its version matches.
	CommandTCompareAndSwapE                     // Write an entry with a time to live if its version matches.
	CommandTDelete                              // Delete an entry.
	CommandTCompareAndDelete                    // Delete an entry if its version matches.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPut:
		return "Put"
	case CommandTPutE:
		return "PutE"
	case CommandTCompareAndSwap:
		return "CompareAndSwap"
	case CommandTCompareAndSwapE:
		return "CompareAndSwapE"
	case CommandTDelete:
		return "Delete"
	case CommandTCompareAndDelete:
		return "CompareAndDelete"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTPut:
		return db.FeaturePut, nil
	case CommandTPutE:
		return db.FeaturePut | db.FeatureExpire, nil
	case CommandTCompareAndSwap:
		return db.FeatureCompareAndSwap, nil
	case CommandTCompareAndSwapE:
		return db.FeatureCompareAndSwap | db.FeatureExpire, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTCompareAndDelete:
		return db.FeatureCompareAndDelete, nil
	default:
		return 0, errors.Newf("unknown command type %d", ct)
	}
}

// headerSize is Type + Timestamp + Expected + TTL + KeyLen
const headerSize = 1 + 8 + 8 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type      CommandType
	Key       string
	Timestamp uint64 // unix ms, chosen by the leader, the logical now of the command
	Expected  uint64 // expected version (compare operations)
	TTL       uint64 // time to live in ms (0 = never expires)
	Value     []byte
}

// ExpireAt returns the logical expiry time of the written record (0 = never)
func (command *Command) ExpireAt() uint64 {
	if command.TTL == 0 {
		return 0
	}
	return command.Timestamp + command.TTL
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the timestamp,
// 8 bytes for the expected version,
// 8 bytes for the ttl,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.Timestamp)
	binary.BigEndian.PutUint64(result[9:17], command.Expected)
	binary.BigEndian.PutUint64(result[17:25], command.TTL)
	binary.BigEndian.PutUint32(result[25:29], uint32(len(command.Key)))

	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return errors.New("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Timestamp = binary.BigEndian.Uint64(data[1:9])
	command.Expected = binary.BigEndian.Uint64(data[9:17])
	command.TTL = binary.BigEndian.Uint64(data[17:25])
	keyLen := int(binary.BigEndian.Uint32(data[25:29]))

	if len(data)-headerSize < keyLen {
		return errors.Newf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	// Extract value if present
	if len(data) > headerSize+keyLen {
		valueLen := len(data) - (headerSize + keyLen)
		// Reuse existing buffer if possible to reduce allocations
		if command.Value == nil || cap(command.Value) < valueLen {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[headerSize+keyLen:])
	} else {
		command.Value = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// ResultData is the payload of a command result: the version of the record after
// (or, on a mismatch, before) the command and whether the key existed.
type ResultData struct {
	Version uint64
	Existed bool
}

// Encode serializes the result data (8 bytes version, 1 byte existed flag)
func (r ResultData) Encode() []byte {
	b := make([]byte, 9)
	binary.BigEndian.PutUint64(b, r.Version)
	if r.Existed {
		b[8] = 1
	}
	return b
}

// DecodeResultData is the inverse of ResultData.Encode
func DecodeResultData(b []byte) (ResultData, error) {
	if len(b) != 9 {
		return ResultData{}, errors.Newf("invalid result data of length %d", len(b))
	}
	return ResultData{Version: binary.BigEndian.Uint64(b), Existed: b[8] == 1}, nil
}
