package protocol

import (
	"fmt"
	"io"

	"github.com/okapi-labs/worldctl/internal/protocol/frame"
	"github.com/okapi-labs/worldctl/internal/protocol/tlv"
)

// Join is the worker->coordinator handshake opener. The launch token
// travels in the frame auth block, not as a field.
type Join struct {
	Token    string
	Slot     uint32
	Hostname string
	PID      uint32
}

// Welcome is the coordinator->worker barrier release. Roster is indexed
// by rank; Roster[Rank] is the worker's own hostname.
type Welcome struct {
	Rank      uint32
	WorldSize uint32
	Roster    []string
}

// Reject is the coordinator->worker refusal. The connection is closed
// after it is sent.
type Reject struct {
	Reason string
}

func EncodeJoin(w io.Writer, messageID uint64, j Join) error {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U32Field(FieldSlot, j.Slot),
		tlv.StringField(FieldHostname, j.Hostname),
		tlv.U32Field(FieldPID, j.PID),
	})
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageID: messageID, MessageType: MsgJoin},
		Auth:    []byte(j.Token),
		Payload: payload,
	}, frame.DefaultLimits())
}

func EncodeWelcome(w io.Writer, messageID uint64, wm Welcome) error {
	fields := []tlv.Field{
		tlv.U32Field(FieldRank, wm.Rank),
		tlv.U32Field(FieldWorldSize, wm.WorldSize),
	}
	for _, host := range wm.Roster {
		fields = append(fields, tlv.StringField(FieldPeerHost, host))
	}
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageID: messageID, MessageType: MsgWelcome},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func EncodeReject(w io.Writer, messageID uint64, r Reject) error {
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.StringField(FieldReason, r.Reason),
	})
	return frame.WriteFrame(w, frame.Frame{
		Header:  frame.Header{MessageID: messageID, MessageType: MsgReject, Flags: frame.FlagIsError},
		Payload: payload,
	}, frame.DefaultLimits())
}

// ReadMessage reads one frame and validates its payload against the
// message type's schema.
func ReadMessage(r io.Reader) (frame.Frame, []tlv.Field, error) {
	f, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return frame.Frame{}, nil, err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return frame.Frame{}, nil, err
	}
	if err := Validate(f.Header.MessageType, fields); err != nil {
		return frame.Frame{}, nil, err
	}
	return f, fields, nil
}

func DecodeJoin(f frame.Frame, fields []tlv.Field) (Join, error) {
	if f.Header.MessageType != MsgJoin {
		return Join{}, fmt.Errorf("protocol: expected join, got message_type=%d", f.Header.MessageType)
	}
	slotField, _ := tlv.GetField(fields, FieldSlot)
	slot, err := tlv.U32FromBytes(slotField.Value)
	if err != nil {
		return Join{}, err
	}
	hostField, _ := tlv.GetField(fields, FieldHostname)
	pidField, _ := tlv.GetField(fields, FieldPID)
	pid, err := tlv.U32FromBytes(pidField.Value)
	if err != nil {
		return Join{}, err
	}
	return Join{
		Token:    string(f.Auth),
		Slot:     slot,
		Hostname: string(hostField.Value),
		PID:      pid,
	}, nil
}

func DecodeWelcome(f frame.Frame, fields []tlv.Field) (Welcome, error) {
	if f.Header.MessageType != MsgWelcome {
		return Welcome{}, fmt.Errorf("protocol: expected welcome, got message_type=%d", f.Header.MessageType)
	}
	rankField, _ := tlv.GetField(fields, FieldRank)
	rank, err := tlv.U32FromBytes(rankField.Value)
	if err != nil {
		return Welcome{}, err
	}
	sizeField, _ := tlv.GetField(fields, FieldWorldSize)
	size, err := tlv.U32FromBytes(sizeField.Value)
	if err != nil {
		return Welcome{}, err
	}
	peerFields := tlv.CollectFields(fields, FieldPeerHost)
	if uint32(len(peerFields)) != size {
		return Welcome{}, fmt.Errorf("protocol: roster size %d does not match world size %d", len(peerFields), size)
	}
	if rank >= size {
		return Welcome{}, fmt.Errorf("protocol: rank %d out of range for world size %d", rank, size)
	}
	roster := make([]string, 0, len(peerFields))
	for _, pf := range peerFields {
		roster = append(roster, string(pf.Value))
	}
	return Welcome{Rank: rank, WorldSize: size, Roster: roster}, nil
}

func DecodeReject(f frame.Frame, fields []tlv.Field) (Reject, error) {
	if f.Header.MessageType != MsgReject {
		return Reject{}, fmt.Errorf("protocol: expected reject, got message_type=%d", f.Header.MessageType)
	}
	reasonField, _ := tlv.GetField(fields, FieldReason)
	return Reject{Reason: string(reasonField.Value)}, nil
}
