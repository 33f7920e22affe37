package domain

// EventType is the wire tag of inbound and outbound frames.
type EventType string

const (
	EventCommunityMessage EventType = "community_message"
	EventDirectMessage    EventType = "direct_message"
)

// MessageType maps a wire tag to the stored message type.
func (t EventType) MessageType() (MessageType, bool) {
	switch t {
	case EventCommunityMessage:
		return MessageTypeCommunity, true
	case EventDirectMessage:
		return MessageTypeDirect, true
	}
	return "", false
}

// InboundEvent is one of the two accepted inbound shapes. Exactly one of
// CommunityID and RecipientID is meaningful, as selected by Type.
type InboundEvent struct {
	Type        EventType
	Content     string
	AuthorID    string
	CommunityID string
	RecipientID string
}

// ConversationKey groups events whose relative order must be preserved:
// a community, or an unordered pair of direct-message participants.
func (e InboundEvent) ConversationKey() string {
	if e.Type == EventCommunityMessage {
		return "c:" + e.CommunityID
	}
	a, b := e.AuthorID, e.RecipientID
	if b < a {
		a, b = b, a
	}
	return "d:" + a + ":" + b
}

// NewMessage converts the event into a persistence request.
func (e InboundEvent) NewMessage() NewMessage {
	mt, _ := e.Type.MessageType()
	return NewMessage{
		Content:     e.Content,
		AuthorID:    e.AuthorID,
		CommunityID: e.CommunityID,
		RecipientID: e.RecipientID,
		Type:        mt,
	}
}

// OutboundEnvelope is the frame pushed to recipients.
type OutboundEnvelope struct {
	Type    EventType         `json:"type"`
	Message MessageWithAuthor `json:"message"`
}
