package alert

import (
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/trackwatch/trackwatch/internal/errors"
)

// ErrInvalidAck is returned for acknowledgement payloads that cannot be correlated.
var ErrInvalidAck = errors.NewStd("invalid acknowledgement")

// Ack is an inbound AI_ACK.
type Ack struct {
	MsgID    string
	Receiver string
}

// ParseAck leniently decodes an AI_ACK payload. Unknown fields are ignored. A
// type other than AI_ACK, a non-string msg_id or a missing receiver is rejected.
func ParseAck(payload []byte) (Ack, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrInvalidAck, err)
	}

	if typ, err := obj.GetString("type"); err != nil || typ != TypeAck {
		return Ack{}, invalidAck("wrong_type")
	}

	msgID, err := obj.GetString("msg_id")
	if err != nil || strings.TrimSpace(msgID) == "" {
		return Ack{}, invalidAck("msg_id")
	}

	receiver, err := obj.GetString("receiver")
	if err != nil {
		return Ack{}, invalidAck("receiver")
	}
	receiver = NormalizeReceiver(receiver)
	if receiver == "" {
		return Ack{}, invalidAck("receiver")
	}

	return Ack{MsgID: strings.TrimSpace(msgID), Receiver: receiver}, nil
}

// NormalizeReceiver trims and upper-cases a receiver name.
func NormalizeReceiver(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// invalidAck errors bypass telemetry reporting.
func invalidAck(field string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAck, field)
}
