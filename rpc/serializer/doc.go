// Package serializer converts rpc messages (common.Message) to bytes and back.
// It defines a common interface and three implementations.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A 16 bit flag field marks the
//     fields that are present, only those are written. Booleans live in the flags.
//
//   - gobSerializerImpl: Go's gob encoding, larger and slower than binary.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging. Empty byte slices
//     are decoded as nil.
//
// Performance Characteristics (see the benchmarks):
//
//   - Binary: Smallest payload and fastest, recommended for production use and
//     the only one the raft messages between nodes should use.
//
//   - JSON: Moderate payload sizes, human-readable output.
//
//   - GOB: Consistently larger and slower than the other implementations.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
