package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	frameHeaderSize = 20
	// maxFrameSize bounds the payload of a single frame
	maxFrameSize = 256 << 20
)

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: serviceID (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn io.Writer, serviceID uint64, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", len(data), maxFrameSize)
	}
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], serviceID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	// one syscall for header and payload
	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer.
// If the buffer is too small, a new buffer is allocated for the data.
// The returned data is only valid until buf is reused.
func readFrame(conn io.Reader, buf []byte) (serviceID uint64, requestID uint64, data []byte, err error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return 0, 0, nil, err
	}

	serviceID = binary.BigEndian.Uint64(buf[:8])
	requestID = binary.BigEndian.Uint64(buf[8:16])
	contentLength := int(binary.BigEndian.Uint32(buf[16:20]))

	if contentLength == 0 {
		return serviceID, requestID, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	if len(buf) < contentLength {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return serviceID, requestID, buf[:contentLength], nil
}
