package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/JE-lee/whisper-comment/pkg/protocol"
)

func TestDecodeAuth(t *testing.T) {
	raw := []byte(`{"type":"auth","userToken":"wc_m1abc_550e8400-e29b-41d4-a716-446655440000"}`)
	msg, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != protocol.TypeAuth {
		t.Errorf("expected type %q, got %q", protocol.TypeAuth, msg.Type)
	}
	if msg.UserToken != "wc_m1abc_550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected userToken: %q", msg.UserToken)
	}
}

func TestDecodePing(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != protocol.TypePing {
		t.Errorf("expected ping, got %q", msg.Type)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"broken JSON", `{"type":`},
		{"not JSON", `hello`},
		{"missing type", `{"userToken":"x"}`},
		{"empty type", `{"type":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode([]byte(tc.raw))
			if !errors.Is(err, protocol.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeUnknownTypePasses(t *testing.T) {
	// unknown types are the session handler's problem, not a decode error
	msg, err := protocol.Decode([]byte(`{"type":"subscribe"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != "subscribe" {
		t.Errorf("unexpected type %q", msg.Type)
	}
}

func TestNotificationWireFormat(t *testing.T) {
	n := protocol.Notification{
		Type:        protocol.TypeCommentReply,
		TargetToken: "wc_m1abc_550e8400-e29b-41d4-a716-446655440000",
		Data: protocol.NotificationData{
			CommentID:      "c1",
			SiteID:         "s1",
			PageIdentifier: "/blog/post-1",
			Content:        "nice post",
			AuthorNickname: "anon",
			ParentID:       "c0",
		},
	}
	raw, err := json.Marshal(&n)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fields["targetUserToken"] != n.TargetToken {
		t.Errorf("targetUserToken missing or wrong: %v", fields["targetUserToken"])
	}
	data, ok := fields["data"].(map[string]any)
	if !ok {
		t.Fatalf("data field missing")
	}
	for key, want := range map[string]string{
		"commentId":      "c1",
		"siteId":         "s1",
		"pageIdentifier": "/blog/post-1",
		"parentId":       "c0",
	} {
		if data[key] != want {
			t.Errorf("data.%s = %v, want %q", key, data[key], want)
		}
	}
}

func TestNotificationTargeted(t *testing.T) {
	n := protocol.Notification{Type: protocol.TypeNewComment}
	if n.Targeted() {
		t.Error("notification without target token reported as targeted")
	}
	n.TargetToken = "wc_x_y"
	if !n.Targeted() {
		t.Error("notification with target token not reported as targeted")
	}
}

func TestValidNotificationType(t *testing.T) {
	for _, typ := range []string{
		protocol.TypeNewComment, protocol.TypeCommentReply,
		protocol.TypeCommentApproved, protocol.TypeCommentRejected,
	} {
		if !protocol.ValidNotificationType(typ) {
			t.Errorf("%q should be a valid notification type", typ)
		}
	}
	for _, typ := range []string{protocol.TypeAuth, protocol.TypePing, "", "comment_deleted"} {
		if protocol.ValidNotificationType(typ) {
			t.Errorf("%q should not be a valid notification type", typ)
		}
	}
}
