package serializer

import (
	"fmt"

	"github.com/ValentinKolb/dMeta/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into msg. All fields of msg are overwritten.
	// The data may be reused by the caller after the call returns.
	Deserialize(b []byte, msg *common.Message) error
}

// Names lists the names accepted by New
var Names = []string{"binary", "json", "gob"}

// New returns the serializer with the given name
func New(name string) (IRPCSerializer, error) {
	switch name {
	case "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q, must be one of %v", name, Names)
	}
}
