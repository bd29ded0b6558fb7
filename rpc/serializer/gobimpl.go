package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every message is a self-contained gob stream (type info included), so messages
// can be decoded independently of each other.
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

type gobSerializerImpl struct{}

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
