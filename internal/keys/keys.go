// Package keys maps storage entities to key strings.
//
// Every key starts with an entity prefix. Identifiers that may contain the
// ':' separator are only ever placed last, or are followed by a numeric
// message id, so distinct identifier tuples never share a key.
package keys

import (
	"strconv"
	"strings"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

const (
	prefixConnectedNode    = "conn:"
	prefixNodeClients      = "node:"
	prefixSession          = "session:"
	prefixPacketID         = "pid:"
	prefixQoS2             = "qos2:"
	prefixInFlightIndex    = "inflight:idx:"
	prefixInFlightMessage  = "inflight:msg:"
	prefixRetainIndex      = "retain:idx:"
	prefixRetainMessage    = "retain:msg:"
	prefixClientSubs       = "sub:client:"
	prefixTopicSubscribers = "sub:topic:"
	prefixTopicTree        = "sub:tree:"
)

// ConnectedNode holds the node currently owning a client.
// Format: conn:{client}
func ConnectedNode(clientID string) string {
	return prefixConnectedNode + clientID
}

// NodeClients is the set of clients owned by a node.
// Format: node:{node}
func NodeClients(nodeID string) string {
	return prefixNodeClients + nodeID
}

// SessionExist holds the session persistence flag.
// Format: session:{client}
func SessionExist(clientID string) string {
	return prefixSession + clientID
}

// NextPacketID is the per-client packet id counter.
// Format: pid:{client}
func NextPacketID(clientID string) string {
	return prefixPacketID + clientID
}

// QoS2MessageIDs is the set of QoS 2 ids in flight for a client.
// Format: qos2:{client}
func QoS2MessageIDs(clientID string) string {
	return prefixQoS2 + clientID
}

// InFlightIndex orders the in-flight message ids of a client.
// Format: inflight:idx:{client}
func InFlightIndex(clientID string) string {
	return prefixInFlightIndex + clientID
}

// InFlightMessage holds one in-flight message as a field map.
// Format: inflight:msg:{client}:{id}
func InFlightMessage(clientID string, messageID int) string {
	return prefixInFlightMessage + clientID + ":" + strconv.Itoa(messageID)
}

// RetainIndex orders the retained message ids of a topic.
// Format: retain:idx:{topic}
func RetainIndex(t topic.Levels) string {
	return prefixRetainIndex + t.String()
}

// RetainMessage holds one retained message as a field map.
// Format: retain:msg:{topic}:{id}
func RetainMessage(t topic.Levels, messageID int) string {
	return prefixRetainMessage + t.String() + ":" + strconv.Itoa(messageID)
}

// ClientSubscriptions maps encoded filter to granted QoS for a client.
// Format: sub:client:{client}
func ClientSubscriptions(clientID string) string {
	return prefixClientSubs + clientID
}

// TopicSubscribers maps client to granted QoS for an encoded filter or topic.
// Format: sub:topic:{levels}
func TopicSubscribers(t topic.Levels) string {
	return prefixTopicSubscribers + t.String()
}

// TopicTreeNode holds the child counters of the trie node reached by the
// given prefix levels. The root node has an empty prefix.
// Format: sub:tree:{prefix}
func TopicTreeNode(prefix topic.Levels) string {
	return prefixTopicTree + strings.Join(prefix, topic.Separator)
}

// ParseMessageID extracts the trailing message id of an in-flight or
// retained message key.
func ParseMessageID(key string) (int, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return 0, false
	}
	return id, true
}
