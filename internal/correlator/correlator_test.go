package correlator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jkrauska/nodepool/internal/meshwire"
	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

func ackEnvelope(requestID, from uint32) *meshwire.FromRadio {
	return &meshwire.FromRadio{Packet: &meshwire.MeshPacket{
		ID:        requestID + 1000,
		From:      from,
		Port:      meshwire.PortRouting,
		RequestID: requestID,
		Routing:   &meshwire.Routing{ErrorReason: meshwire.RoutingErrorNone},
	}}
}

func adminEnvelope(requestID, from uint32, msg *meshwire.AdminMessage) *meshwire.FromRadio {
	return &meshwire.FromRadio{Packet: &meshwire.MeshPacket{
		ID:        requestID + 2000,
		From:      from,
		Port:      meshwire.PortAdmin,
		RequestID: requestID,
		Admin:     msg,
	}}
}

func TestAwaitAckMatchesRegisteredID(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(42)
	c.Dispatch(ackEnvelope(42, 0xaaa111))

	ack, err := c.AwaitAck(42, time.Second)
	if err != nil {
		t.Fatalf("await ack: %v", err)
	}
	if ack == nil || ack.ResponderID != "!00aaa111" || ack.RequestID != 42 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestAwaitAckTimeoutReturnsNil(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(7)
	ack, err := c.AwaitAck(7, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("await ack: %v", err)
	}
	if ack != nil {
		t.Fatalf("expected nil ack on timeout, got %+v", ack)
	}
}

func TestAckConsumedByExactlyOneWaiter(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(9)

	var mu sync.Mutex
	var got int
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := c.AwaitAck(9, 100*time.Millisecond)
			if err != nil {
				t.Errorf("await ack: %v", err)
				return
			}
			if ack != nil {
				mu.Lock()
				got++
				mu.Unlock()
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	c.Dispatch(ackEnvelope(9, 1))
	wg.Wait()

	if got != 1 {
		t.Fatalf("ack consumed by %d waiters, want exactly 1", got)
	}
}

func TestUntrackedAndUnrelatedFramesIgnored(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(5)

	// None of these may resolve slot 5.
	c.Dispatch(&meshwire.FromRadio{})
	c.Dispatch(&meshwire.FromRadio{NodeInfo: &meshwire.NodeInfo{Num: 5}})
	c.Dispatch(ackEnvelope(6, 1))
	c.Dispatch(&meshwire.FromRadio{Packet: &meshwire.MeshPacket{
		Port: meshwire.PortRouting, RequestID: 5, // malformed: no routing body
	}})

	ack, err := c.AwaitAck(5, 20*time.Millisecond)
	if err != nil || ack != nil {
		t.Fatalf("expected quiet timeout, got ack=%+v err=%v", ack, err)
	}
}

func TestAwaitAdminResponse(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(77)
	c.Dispatch(adminEnvelope(77, 0xdef456, &meshwire.AdminMessage{
		GetDeviceMetadataResponse: &meshwire.DeviceMetadata{FirmwareVersion: "2.5.4", HWModel: "TBEAM"},
	}))

	resp, err := c.AwaitAdminResponse(77, time.Second)
	if err != nil {
		t.Fatalf("await admin: %v", err)
	}
	if resp == nil || resp.Admin.GetDeviceMetadataResponse == nil {
		t.Fatalf("unexpected admin response: %+v", resp)
	}
	if resp.ResponderID != "!00def456" {
		t.Fatalf("unexpected responder: %q", resp.ResponderID)
	}
}

func TestAckAndAdminChannelsAreSeparate(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(3)
	c.Dispatch(ackEnvelope(3, 1))

	resp, err := c.AwaitAdminResponse(3, 20*time.Millisecond)
	if err != nil || resp != nil {
		t.Fatalf("routing ack must not satisfy admin wait: resp=%+v err=%v", resp, err)
	}
	ack, err := c.AwaitAck(3, time.Second)
	if err != nil || ack == nil {
		t.Fatalf("ack should still be pending: ack=%+v err=%v", ack, err)
	}
}

func TestCloseWakesOutstandingWaits(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(11)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.AwaitAck(11, 5*time.Second)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not observe close")
	}
}

func TestReleaseDropsStaleSlot(t *testing.T) {
	testlog.Start(t)
	c := New()
	c.Register(20)
	c.Release(20)
	c.Dispatch(ackEnvelope(20, 1))
	ack, err := c.AwaitAck(20, 10*time.Millisecond)
	if err != nil || ack != nil {
		t.Fatalf("released id must not match: ack=%+v err=%v", ack, err)
	}
}
