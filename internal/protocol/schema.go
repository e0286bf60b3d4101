package protocol

import (
	"fmt"

	"github.com/okapi-labs/worldctl/internal/protocol/tlv"
)

// Message type IDs.
const (
	MsgJoin    uint32 = 1
	MsgWelcome uint32 = 2
	MsgReject  uint32 = 3
)

// Field IDs.
const (
	FieldSlot      uint16 = 1
	FieldHostname  uint16 = 2
	FieldPID       uint16 = 3
	FieldRank      uint16 = 100
	FieldWorldSize uint16 = 101
	FieldPeerHost  uint16 = 102
	FieldReason    uint16 = 200
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("protocol: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("protocol: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgJoin: {
		{FieldSlot, tlv.TypeU32},
		{FieldHostname, tlv.TypeString},
		{FieldPID, tlv.TypeU32},
	},
	MsgWelcome: {
		{FieldRank, tlv.TypeU32},
		{FieldWorldSize, tlv.TypeU32},
		{FieldPeerHost, tlv.TypeString},
	},
	MsgReject: {
		{FieldReason, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message
// type. Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message type"}
	}
	for _, req := range reqs {
		f, ok := tlv.GetField(fields, req.ID)
		if !ok {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if err := tlv.MustType(f, req.Type); err != nil {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: err.Error()}
		}
	}
	return nil
}
