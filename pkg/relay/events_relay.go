package relay

import (
	"encoding/json"
	"time"
)

// Outbound event names.
const (
	EventUserStatusChanged = "userStatusChanged"
	EventOnlineUsers       = "getOnlineUsers"
	EventQueuedMessages    = "queuedMessages"
	EventNewMessage        = "newMessage"
	EventUserTyping        = "userTyping"
	EventMessageSeen       = "messageSeen"
)

// Inbound command names.
const (
	CommandTyping         = "typing"
	CommandMessageSeen    = "messageSeen"
	CommandUserOnline     = "userOnline"
	CommandGetOnlineUsers = "getOnlineUsers"
)

// StatusChange announces a user coming online or going offline.
// LastSeen is nil while the user is online.
type StatusChange struct {
	UserID   UserID     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// OnlineUsers is the full set of currently connected users.
type OnlineUsers struct {
	UserIDs []UserID `json:"userIds"`
}

// QueuedMessages carries every item held for a user while they were offline.
type QueuedMessages struct {
	Items []QueuedItem `json:"items"`
}

// SenderInfo annotates relayed messages with who sent them.
type SenderInfo struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewMessage is delivered live, or queued verbatim for an offline recipient.
type NewMessage struct {
	Message Envelope   `json:"message"`
	Sender  SenderInfo `json:"sender"`
}

// TypingNotice tells the recipient that the sender is (or stopped) typing.
type TypingNotice struct {
	SenderID   UserID `json:"senderId"`
	SenderName string `json:"senderName"`
	IsTyping   bool   `json:"isTyping"`
}

// SeenReceipt tells a sender that their message was read.
type SeenReceipt struct {
	MessageID  string `json:"messageId"`
	SenderID   UserID `json:"senderId"`
	ReaderID   UserID `json:"readerId"`
	ReaderName string `json:"readerName"`
}

// ContactEvent is an ephemeral notice fanned out to a user's online contacts,
// such as a profile update or a deleted chat.
type ContactEvent struct {
	UserID UserID          `json:"userId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// TypingCommand is the inbound "typing" command body.
type TypingCommand struct {
	RecipientID UserID `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

// SeenCommand is the inbound "messageSeen" command body.
type SeenCommand struct {
	MessageID string `json:"messageId"`
	SenderID  UserID `json:"senderId"`
}
