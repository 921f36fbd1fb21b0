// Package wire implements the bit-packed message codecs for scene
// replication: the message-id table, per-message encoders built on
// internal/bitio, and the Encoder that adapts internal/sync's flush
// algorithm onto an outbound byte stream. Grounded on
// original_source/src/Core/TundraProtocolModule/TundraMessages.h.
package wire

// MessageID identifies a replication message on the wire. IDs 100-124 are
// reserved for this protocol family, leaving room below for transport or
// session-layer messages the caller may define separately.
type MessageID uint8

const (
	MsgObserverPosition      MessageID = 105
	MsgEditEntityProperties  MessageID = 109
	MsgCreateEntity          MessageID = 110
	MsgCreateComponents      MessageID = 111
	MsgCreateAttributes      MessageID = 112
	MsgEditAttributes        MessageID = 113
	MsgRemoveAttributes      MessageID = 114
	MsgRemoveComponents      MessageID = 115
	MsgRemoveEntity          MessageID = 116
	MsgCreateEntityReply     MessageID = 117
	MsgCreateComponentsReply MessageID = 118
	MsgRigidBodyUpdate       MessageID = 119
	MsgEntityAction          MessageID = 120
	MsgRegisterComponentType MessageID = 123
	MsgSetEntityParent       MessageID = 124
)

// MaxMessageID is the highest id this protocol family reserves (100-124).
const MaxMessageID = 124

// Frame is one fully encoded outbound message, ready for the transport
// layer to deliver over a reliable or unreliable channel.
type Frame struct {
	ID       MessageID
	Payload  []byte
	Reliable bool
}
