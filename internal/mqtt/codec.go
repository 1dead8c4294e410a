package mqtt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
)

// Field names of the stored message map.
const (
	FieldType      = "type"
	FieldDup       = "dup"
	FieldQoS       = "qos"
	FieldRetain    = "retain"
	FieldLength    = "length"
	FieldTopicName = "topicName"
	FieldPacketID  = "packetId"
	FieldPayload   = "payload"
)

var (
	ErrMalformedRecord = errors.New("malformed message record")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Validate accepts exactly the messages MapToMessage can rebuild.
func (msg *Message) Validate() error {
	h := msg.FixedHeader
	if !h.Type.Valid() {
		return fmt.Errorf("%w: unknown packet type %d", ErrInvalidMessage, h.Type)
	}
	if !h.QoS().Valid() {
		return fmt.Errorf("%w: qos %d", ErrInvalidMessage, h.QoS())
	}
	if !ValidateFlags(h.Type, h.Flags) {
		return fmt.Errorf("%w: flags %04b not allowed for %s", ErrInvalidMessage, h.Flags, h.Type)
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// MessageToMap flattens msg for storage as a hash.
func MessageToMap(msg *Message) map[string]string {
	if msg == nil {
		return map[string]string{}
	}
	m := map[string]string{
		FieldType:     strconv.Itoa(int(msg.FixedHeader.Type)),
		FieldDup:      boolField(msg.FixedHeader.Dup()),
		FieldQoS:      strconv.Itoa(int(msg.FixedHeader.QoS())),
		FieldRetain:   boolField(msg.FixedHeader.Retain()),
		FieldLength:   strconv.Itoa(msg.FixedHeader.RemainingLength),
		FieldPacketID: strconv.Itoa(msg.VariableHeader.PacketID),
	}
	if msg.VariableHeader.TopicName != "" {
		m[FieldTopicName] = msg.VariableHeader.TopicName
	}
	// an absent payload field decodes back to nil
	if msg.Payload != nil {
		m[FieldPayload] = base64.StdEncoding.EncodeToString(msg.Payload)
	}
	return m
}

// MapToMessage rebuilds a message from its stored map. An empty map means
// the record does not exist and yields nil without error.
func MapToMessage(m map[string]string) (*Message, error) {
	if len(m) == 0 {
		return nil, nil
	}

	typ, err := intField(m, FieldType)
	if err != nil {
		return nil, err
	}
	packetType := PacketType(typ)
	if !packetType.Valid() {
		return nil, fmt.Errorf("%w: unknown packet type %d", ErrMalformedRecord, typ)
	}
	qos, err := intField(m, FieldQoS)
	if err != nil {
		return nil, err
	}
	if !QoS(qos).Valid() {
		return nil, fmt.Errorf("%w: qos %d", ErrMalformedRecord, qos)
	}
	length, err := intField(m, FieldLength)
	if err != nil {
		return nil, err
	}
	packetID, err := intField(m, FieldPacketID)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if encoded, ok := m[FieldPayload]; ok {
		if payload, err = base64.StdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrMalformedRecord, err)
		}
	}

	header := NewFixedHeader(packetType, m[FieldDup] == "1", QoS(qos), m[FieldRetain] == "1", length)
	if !ValidateFlags(header.Type, header.Flags) {
		return nil, fmt.Errorf("%w: flags %04b not allowed for %s", ErrMalformedRecord, header.Flags, header.Type)
	}

	msg := &Message{
		FixedHeader: header,
		VariableHeader: VariableHeader{
			TopicName: m[FieldTopicName],
			PacketID:  packetID,
		},
		Payload: payload,
	}
	return msg, nil
}

func intField(m map[string]string, name string) (int, error) {
	v, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedRecord, name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, name, err)
	}
	return n, nil
}
