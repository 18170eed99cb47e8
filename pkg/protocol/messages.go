// Package protocol defines the JSON wire format spoken over the widget's
// persistent connection. Every frame is a single JSON text message carrying a
// "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Client-to-server and server-to-client message types.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"

	TypeNewComment      = "new_comment"
	TypeCommentReply    = "comment_reply"
	TypeCommentApproved = "comment_approved"
	TypeCommentRejected = "comment_rejected"
)

var ErrMalformed = errors.New("malformed message")

// Message is the decoded form of one inbound frame. Only the fields relevant
// to the given Type are populated.
type Message struct {
	Type      string `json:"type"`
	UserToken string `json:"userToken,omitempty"`
}

// Decode parses a raw frame. The type field is peeked with gjson first so a
// frame with valid JSON but no usable type is rejected the same way as broken
// JSON.
func Decode(raw []byte) (*Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	typ := gjson.GetBytes(raw, "type")
	if !typ.Exists() || typ.String() == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// AuthSuccess acknowledges a successful auth handshake and hands the client
// its connection id.
type AuthSuccess struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewAuthSuccess(connectionID string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, ConnectionID: connectionID, Timestamp: time.Now().UTC()}
}

// ErrorMessage reports a recoverable per-connection failure back to the
// client. The connection stays open.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, Timestamp: time.Now().UTC()}
}

// Keepalive is a bare ping or pong frame.
type Keepalive struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPing() Keepalive { return Keepalive{Type: TypePing, Timestamp: time.Now().UTC()} }
func NewPong() Keepalive { return Keepalive{Type: TypePong, Timestamp: time.Now().UTC()} }

// NotificationData is the comment payload carried by every notification type.
// Field names match the widget's wire format.
type NotificationData struct {
	CommentID      string `json:"commentId"`
	SiteID         string `json:"siteId"`
	PageIdentifier string `json:"pageIdentifier"`
	Content        string `json:"content,omitempty"`
	AuthorNickname string `json:"authorNickname,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
}

// Notification is a transient, fire-and-forget message. A set TargetToken
// addresses one user; an empty one means broadcast to every live connection.
type Notification struct {
	Type        string           `json:"type"`
	TargetToken string           `json:"targetUserToken,omitempty"`
	Data        NotificationData `json:"data"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Targeted reports whether the notification is addressed to a single token.
func (n *Notification) Targeted() bool { return n.TargetToken != "" }

// ValidNotificationType reports whether t is one of the closed set of
// notification types.
func ValidNotificationType(t string) bool {
	switch t {
	case TypeNewComment, TypeCommentReply, TypeCommentApproved, TypeCommentRejected:
		return true
	}
	return false
}
