// Package mqtt defines the protocol message model persisted by the storage
// layer and its flat field-map codec.
package mqtt

import "fmt"

// PacketType is the MQTT control packet type.
type PacketType byte

const (
	CONNECT     PacketType = iota + 1 // client connection request
	CONNACK                           // connection acknowledgement
	PUBLISH                           // publish message
	PUBACK                            // QoS 1 acknowledgement
	PUBREC                            // QoS 2 step 1
	PUBREL                            // QoS 2 step 2
	PUBCOMP                           // QoS 2 step 3
	SUBSCRIBE                         // subscribe request
	SUBACK                            // subscribe acknowledgement
	UNSUBSCRIBE                       // unsubscribe request
	UNSUBACK                          // unsubscribe acknowledgement
	PINGREQ                           // ping request
	PINGRESP                          // ping response
	DISCONNECT                        // disconnect notification
)

var PacketTypeMap = map[PacketType]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (packetType PacketType) String() string {
	if s, ok := PacketTypeMap[packetType]; ok {
		return s
	}
	return fmt.Sprintf("PacketType(%d)", byte(packetType))
}

// Valid reports whether packetType is one of the defined control packets.
func (packetType PacketType) Valid() bool {
	_, ok := PacketTypeMap[packetType]
	return ok
}

// allowedFlags lists the fixed-header flag bits each packet type may carry.
var allowedFlags = map[PacketType]byte{
	CONNECT:     0x00,
	CONNACK:     0x00,
	PUBLISH:     0x0F,
	PUBACK:      0x00,
	PUBREC:      0x00,
	PUBREL:      0x02,
	PUBCOMP:     0x00,
	SUBSCRIBE:   0x02,
	SUBACK:      0x00,
	UNSUBSCRIBE: 0x02,
	UNSUBACK:    0x00,
	PINGREQ:     0x00,
	PINGRESP:    0x00,
	DISCONNECT:  0x00,
}

func ValidateFlags(pt PacketType, flags byte) bool {
	allowed, ok := allowedFlags[pt]
	if !ok {
		return false
	}
	return (flags & ^allowed) == 0
}

// QoS is a message or granted subscription quality of service.
type QoS byte

const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
	// Failure is the SUBACK return code for a rejected subscription.
	Failure QoS = 0x80
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "AT_MOST_ONCE"
	case AtLeastOnce:
		return "AT_LEAST_ONCE"
	case ExactlyOnce:
		return "EXACTLY_ONCE"
	case Failure:
		return "FAILURE"
	}
	return fmt.Sprintf("QoS(%d)", byte(q))
}

// Valid reports whether q is a deliverable level (0, 1 or 2).
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

// FixedHeader is the first part of every control packet.
type FixedHeader struct {
	Type            PacketType
	Flags           byte
	RemainingLength int
}

// NewFixedHeader packs dup, qos and retain into the flag nibble.
func NewFixedHeader(t PacketType, dup bool, qos QoS, retain bool, remainingLength int) FixedHeader {
	var flags byte
	if dup {
		flags |= 0x08
	}
	flags |= (byte(qos) & 0x03) << 1
	if retain {
		flags |= 0x01
	}
	return FixedHeader{Type: t, Flags: flags, RemainingLength: remainingLength}
}

func (h FixedHeader) Dup() bool {
	return h.Flags&0x08 != 0
}

func (h FixedHeader) QoS() QoS {
	return QoS((h.Flags & 0x06) >> 1)
}

func (h FixedHeader) Retain() bool {
	return h.Flags&0x01 != 0
}

// VariableHeader carries the fields this layer persists. TopicName is only
// meaningful for PUBLISH.
type VariableHeader struct {
	TopicName string
	PacketID  int
}

// Message is a decoded protocol message.
type Message struct {
	FixedHeader    FixedHeader
	VariableHeader VariableHeader
	Payload        []byte
}

// NewPublish builds a PUBLISH message.
func NewPublish(topicName string, packetID int, qos QoS, retain bool, payload []byte) *Message {
	return &Message{
		FixedHeader: NewFixedHeader(PUBLISH, false, qos, retain, 0),
		VariableHeader: VariableHeader{
			TopicName: topicName,
			PacketID:  packetID,
		},
		Payload: payload,
	}
}
