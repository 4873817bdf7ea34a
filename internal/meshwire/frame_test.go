package meshwire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	env := &FromRadio{
		MyInfo: &MyNodeInfo{MyNodeNum: 0xabc123, FirmwareEnv: "2.5.4"},
	}
	if err := WriteEnvelope(&buf, env, DefaultLimits()); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	got, err := ReadFromRadio(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if got.MyInfo == nil || got.MyInfo.MyNodeNum != 0xabc123 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestReadFrameSkipsConsoleNoise(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	buf.WriteString("boot log line\n")
	buf.WriteByte(FrameStart1) // stray start1 with no start2
	buf.WriteString("more noise")
	if err := WriteEnvelope(&buf, &ToRadio{WantConfigID: 7}, DefaultLimits()); err != nil {
		t.Fatalf("write envelope: %v", err)
	}
	got, err := ReadToRadio(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if got.WantConfigID != 7 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	buf.Write([]byte{FrameStart1, FrameStart2, 0xff, 0xff})
	if _, err := ReadFrame(&buf, Limits{MaxPayloadBytes: 512}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	buf.Write([]byte{FrameStart1, FrameStart2, 0x00, 0x10, 'x', 'y'})
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, ErrFrameTruncated) {
		t.Fatalf("expected ErrFrameTruncated, got %v", err)
	}
}

func TestReadFromRadioUndecodableBody(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	buf.Write([]byte{FrameStart1, FrameStart2, 0x00, 0x03, '{', 'x', '}'})
	if _, err := ReadFromRadio(&buf, DefaultLimits()); !errors.Is(err, ErrFrameDecode) {
		t.Fatalf("expected ErrFrameDecode, got %v", err)
	}
}

func TestReadFrameEOFBetweenFrames(t *testing.T) {
	testlog.Start(t)
	if _, err := ReadFrame(bytes.NewReader(nil), DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNodeIDFormatting(t *testing.T) {
	testlog.Start(t)
	if got := NodeID(0xabc123); got != "!00abc123" {
		t.Fatalf("unexpected id: %q", got)
	}
	if got := NodeID(0xffffffff); got != "!ffffffff" {
		t.Fatalf("unexpected id: %q", got)
	}
}

func TestKeyFields(t *testing.T) {
	testlog.Start(t)
	hexKey, set := KeyFields([]byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	if !set || hexKey != "deadbeef01" {
		t.Fatalf("unexpected key fields: %q set=%v", hexKey, set)
	}
	if _, set := KeyFields(nil); set {
		t.Fatalf("empty key must report unset")
	}
	if got := KeyPrefix([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}); got != "deadbeef" {
		t.Fatalf("unexpected prefix: %q", got)
	}
}
