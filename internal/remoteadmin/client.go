// Package remoteadmin drives acknowledged delivery and configuration
// retrieval against a remote, mesh-routed target through one open
// device session. The medium is lossy and multi-hop; every operation
// here is built around safe retry and accurate partial-success
// reporting, not delivery guarantees.
package remoteadmin

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkrauska/nodepool/internal/correlator"
	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
	"github.com/jkrauska/nodepool/internal/session"
)

var (
	ErrNoResponse       = errors.New("remoteadmin: target never answered the metadata request")
	ErrRetriesExhausted = errors.New("remoteadmin: transport retries exhausted")
)

// maxSectionAttempts bounds per-section admin requests. The
// first-section abort policy on top of it is tunable policy, not a
// protocol requirement.
const maxSectionAttempts = 3

// phase names the retrieval state machine steps for diagnostics.
type phase string

const (
	phaseResolving    phase = "resolving"
	phaseMetadataWait phase = "metadata_wait"
	phaseSectionWait  phase = "section_wait"
	phaseAssembled    phase = "assembled"
	phaseAborted      phase = "aborted"
)

// sectionSpec is one entry of the fixed retrieval order.
type sectionSpec struct {
	name   string
	index  int
	module bool
}

var sectionOrder = []sectionSpec{
	{"device", meshwire.SectionDevice, false},
	{"position", meshwire.SectionPosition, false},
	{"power", meshwire.SectionPower, false},
	{"network", meshwire.SectionNetwork, false},
	{"display", meshwire.SectionDisplay, false},
	{"lora", meshwire.SectionLoRa, false},
	{"bluetooth", meshwire.SectionBluetooth, false},
	{"mqtt", meshwire.ModuleMQTT, true},
	{"serial", meshwire.ModuleSerial, true},
	{"telemetry", meshwire.ModuleTelemetry, true},
}

// AckResult reports one acknowledged-delivery attempt. A missing ack
// is data, not an error.
type AckResult struct {
	Success     bool
	PacketID    uint32
	AckReceived bool
	ResponderID string
	Error       string
}

// AttemptRecord is per-section retrieval diagnostics. Never persisted.
type AttemptRecord struct {
	Section  string
	Attempts int
	Elapsed  time.Duration
	Outcome  string
}

// Result is one remote configuration retrieval. Snapshot holds
// exactly the sections that answered; completeness is inferable from
// which keys are present.
type Result struct {
	Target   string
	Metadata *meshwire.DeviceMetadata
	Snapshot meshwire.Snapshot
	Attempts []AttemptRecord
}

// Client runs admin exchanges over one session. Callers serialize
// operations per session.
type Client struct {
	sess *session.Session
	log  zerolog.Logger
}

func New(sess *session.Session) *Client {
	return &Client{
		sess: sess,
		log:  logging.For("remoteadmin"),
	}
}

// SendTextWithAck sends one text message to the target and waits for a
// routing ack. The packet id is registered with the correlator before
// transmission so a fast reply cannot slip past.
func (c *Client) SendTextWithAck(target, text string, timeout time.Duration) (AckResult, error) {
	entry, err := c.sess.Resolve(target)
	if err != nil {
		return AckResult{}, err
	}

	corr := c.sess.Correlator()
	id := c.sess.NextPacketID()
	corr.Register(id)
	defer corr.Release(id)

	pkt := &meshwire.MeshPacket{
		ID:      id,
		To:      entry.Num,
		Port:    meshwire.PortText,
		WantAck: true,
		Text:    text,
	}
	if err := c.sess.SendPacket(pkt); err != nil {
		return AckResult{}, fmt.Errorf("remoteadmin: send text: %w", err)
	}

	ack, err := corr.AwaitAck(id, timeout)
	if err != nil {
		return AckResult{}, err
	}
	if ack == nil {
		return AckResult{
			PacketID: id,
			Error:    fmt.Sprintf("no ACK received within %s", timeout),
		}, nil
	}
	res := AckResult{
		Success:     true,
		PacketID:    id,
		AckReceived: true,
		ResponderID: ack.ResponderID,
	}
	if ack.ErrorReason != "" && ack.ErrorReason != meshwire.RoutingErrorNone {
		res.Success = false
		res.Error = fmt.Sprintf("routing error: %s", ack.ErrorReason)
	}
	return res, nil
}

// VerifyAdminChannel sends a begin-edit-session admin request carrying
// the local passkey. No ack is requested: admin-channel acks are not
// observable across a multi-hop mesh, so a true return only means the
// probe was transmitted. Callers needing certainty follow with
// FetchConfig.
func (c *Client) VerifyAdminChannel(target string) (bool, error) {
	entry, err := c.sess.Resolve(target)
	if err != nil {
		return false, err
	}
	passkey, err := c.sess.Passkey()
	if err != nil {
		return false, err
	}

	pkt := &meshwire.MeshPacket{
		ID:   c.sess.NextPacketID(),
		To:   entry.Num,
		Port: meshwire.PortAdmin,
		Admin: &meshwire.AdminMessage{
			SessionPasskey:    passkey,
			BeginEditSettings: true,
		},
	}
	if err := c.sess.SendPacket(pkt); err != nil {
		return false, fmt.Errorf("remoteadmin: send admin probe: %w", err)
	}
	c.log.Info().Str("target", target).
		Str("passkey", meshwire.KeyPrefix(passkey)).
		Msg("admin probe transmitted")
	return true, nil
}

// FetchConfig retrieves the target's configuration section by section.
// Metadata is mandatory: a target that stays silent for retries+1
// metadata attempts will not answer sections either and the call fails
// with ErrNoResponse. Transport-level errors restart the sequence from
// metadata, up to retries extra times, then ErrRetriesExhausted.
func (c *Client) FetchConfig(target string, timeoutPerAttempt time.Duration, retries int) (*Result, error) {
	entry, err := c.sess.Resolve(target)
	if err != nil {
		return nil, err
	}
	passkey, err := c.sess.Passkey()
	if err != nil {
		return nil, err
	}
	if retries < 0 {
		retries = 0
	}
	canonical := entry.User.ID
	if canonical == "" {
		canonical = meshwire.NodeID(entry.Num)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err := c.fetchOnce(canonical, entry.Num, passkey, timeoutPerAttempt, retries)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrNoResponse) {
			return nil, err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("transport error, restarting retrieval")
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (c *Client) fetchOnce(target string, num uint32, passkey []byte, timeout time.Duration, retries int) (*Result, error) {
	log := c.log.With().Str("target", target).Logger()
	res := &Result{Target: target, Snapshot: meshwire.Snapshot{}}

	log.Debug().Str("phase", string(phaseMetadataWait)).Msg("requesting device metadata")
	for try := 0; try < retries+1; try++ {
		resp, err := c.adminExchange(num, passkey, &meshwire.AdminMessage{
			GetDeviceMetadataRequest: true,
		}, timeout)
		if err != nil {
			return nil, err
		}
		if resp != nil && resp.Admin.GetDeviceMetadataResponse != nil {
			res.Metadata = resp.Admin.GetDeviceMetadataResponse
			break
		}
	}
	if res.Metadata == nil {
		log.Warn().Str("phase", string(phaseAborted)).Msg("metadata request unanswered")
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, target)
	}

	for i, spec := range sectionOrder {
		rec := AttemptRecord{Section: spec.name}
		start := time.Now()
		captured := false

		for try := 0; try < maxSectionAttempts && !captured; try++ {
			rec.Attempts++
			msg := &meshwire.AdminMessage{SessionPasskey: passkey}
			idx := spec.index
			if spec.module {
				msg.GetModuleConfigRequest = &idx
			} else {
				msg.GetConfigRequest = &idx
			}
			resp, err := c.adminExchange(num, passkey, msg, timeout)
			if err != nil {
				return nil, err
			}
			if section := sectionFromResponse(resp); section != nil {
				res.Snapshot[spec.name] = section.Fields
				captured = true
			}
		}

		rec.Elapsed = time.Since(start)
		if captured {
			rec.Outcome = "captured"
		} else {
			rec.Outcome = "timeout"
		}
		res.Attempts = append(res.Attempts, rec)
		log.Debug().Str("phase", string(phaseSectionWait)).
			Str("section", spec.name).
			Str("outcome", rec.Outcome).
			Int("attempts", rec.Attempts).
			Dur("elapsed", rec.Elapsed).
			Msg("section retrieval finished")

		if !captured && i == 0 {
			// A target that cannot answer its first section will not
			// answer the rest; stop burning air time.
			log.Warn().Str("phase", string(phaseAborted)).Msg("first section unanswered, aborting remaining sections")
			return res, nil
		}
	}

	log.Debug().Str("phase", string(phaseAssembled)).
		Strs("sections", res.Snapshot.Sections()).
		Msg("remote config assembled")
	return res, nil
}

// adminExchange performs one correlated admin request. A nil response
// with nil error is a timeout; errors are transport-level.
func (c *Client) adminExchange(num uint32, passkey []byte, msg *meshwire.AdminMessage, timeout time.Duration) (*correlator.AdminResponse, error) {
	if msg.SessionPasskey == nil {
		msg.SessionPasskey = passkey
	}
	corr := c.sess.Correlator()
	id := c.sess.NextPacketID()
	corr.Register(id)
	defer corr.Release(id)

	pkt := &meshwire.MeshPacket{
		ID:    id,
		To:    num,
		Port:  meshwire.PortAdmin,
		Admin: msg,
	}
	if err := c.sess.SendPacket(pkt); err != nil {
		return nil, fmt.Errorf("remoteadmin: send admin request: %w", err)
	}
	return corr.AwaitAdminResponse(id, timeout)
}

func sectionFromResponse(resp *correlator.AdminResponse) *meshwire.ConfigSection {
	if resp == nil || resp.Admin == nil {
		return nil
	}
	if resp.Admin.GetConfigResponse != nil {
		return resp.Admin.GetConfigResponse
	}
	return resp.Admin.GetModuleConfigResponse
}
