package meshwire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

const (
	// Stream sync bytes; anything between frames that is not a start
	// byte is debug console noise from the device and gets skipped.
	FrameStart1 byte = 0x94
	FrameStart2 byte = 0xc3

	frameHeaderLen = 4
)

var (
	ErrFrameTooLarge  = errors.New("meshwire: frame payload too large")
	ErrFrameTruncated = errors.New("meshwire: truncated frame")
	ErrFrameDecode    = errors.New("meshwire: undecodable frame body")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 256 * 1024}
}

// WriteEnvelope frames one JSON-encoded envelope onto w.
func WriteEnvelope(w io.Writer, env any, limits Limits) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(body) > limits.MaxPayloadBytes || len(body) > 0xffff {
		return ErrFrameTooLarge
	}
	buf := make([]byte, frameHeaderLen+len(body))
	buf[0] = FrameStart1
	buf[1] = FrameStart2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(body)))
	copy(buf[frameHeaderLen:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame returns the next raw frame body, skipping inter-frame noise
// until a valid start sequence is found.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	if err := syncToStart(r); err != nil {
		return nil, err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, truncated(err)
	}
	bodyLen := int(binary.BigEndian.Uint16(lenBuf[:]))
	if bodyLen > limits.MaxPayloadBytes {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, truncated(err)
	}
	return body, nil
}

// ReadFromRadio reads and decodes the next device-to-host envelope.
func ReadFromRadio(r io.Reader, limits Limits) (*FromRadio, error) {
	body, err := ReadFrame(r, limits)
	if err != nil {
		return nil, err
	}
	var env FromRadio
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrFrameDecode
	}
	return &env, nil
}

// ReadToRadio reads and decodes the next host-to-device envelope.
// The device side of test harnesses is its only consumer.
func ReadToRadio(r io.Reader, limits Limits) (*ToRadio, error) {
	body, err := ReadFrame(r, limits)
	if err != nil {
		return nil, err
	}
	var env ToRadio
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrFrameDecode
	}
	return &env, nil
}

func syncToStart(r io.Reader) error {
	var b [1]byte
	sawStart1 := false
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		switch {
		case sawStart1 && b[0] == FrameStart2:
			return nil
		case b[0] == FrameStart1:
			sawStart1 = true
		default:
			sawStart1 = false
		}
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFrameTruncated
	}
	return err
}
