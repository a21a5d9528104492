package wire

import (
	"encoding/binary"
	"io"
)

// HeaderSize is the length of the frame length header in bytes.
const HeaderSize = 4

// frame wraps a payload (opcode + body) with its 4-byte little-endian
// length header. Length counts payload only, not the header itself.
func frame(payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[:HeaderSize], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// ReadFrameLength decodes a 4-byte little-endian length header.
func ReadFrameLength(header []byte) (uint32, error) {
	if len(header) < HeaderSize {
		return 0, errInsufficientData()
	}
	return binary.LittleEndian.Uint32(header[:HeaderSize]), nil
}

// ReadFrame reads one complete frame (header + payload) from r, returning
// the raw payload bytes (opcode + body).
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errInsufficientData()
		}
		return nil, err
	}
	length, err := ReadFrameLength(header)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errInsufficientData()
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes a pre-built frame (including header) to w.
func WriteFrame(w io.Writer, frameBytes []byte) error {
	_, err := w.Write(frameBytes)
	return err
}
