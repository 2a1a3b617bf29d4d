package engine

// ReplyMetadata captures everything SendMsg/SendReply needs to finish
// and address a packet that InitMsg/InitReply already decided the shape
// of, and everything ReceiveReply needs to validate an incoming reply
// against the request it answers.
type ReplyMetadata struct {
	Receiver         uint8
	UsesCryptography bool
	UsesIDExtension  bool
	NeedsReply       bool
	ClientID         uint16
	ApplicationID    uint16
	MessageID        uint8
	TrustedSubnetID  uint8
}

// MsgMetadata describes a message ReceiveMsg returned: everything
// InitReply needs to address and shape the reply packet.
type MsgMetadata struct {
	Sender           uint8
	UsesCryptography bool
	UsesIDExtension  bool
	ClientID         uint16
	ApplicationID    uint16
	MessageID        uint8
	TrustedSubnetID  uint8
}
