package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/JE-lee/whisper-comment/pkg/directory"
	"github.com/JE-lee/whisper-comment/pkg/protocol"
)

// Comments is the slice of the comment persistence service this package
// needs: resolving whom to notify about a reply.
type Comments interface {
	// ParentAuthorToken returns the author token of the comment's parent, or
	// "" when the comment has no parent.
	ParentAuthorToken(ctx context.Context, commentID string) (string, error)
}

// PushMessage is the payload handed to the secondary push path.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Pusher is the best-effort push-notification collaborator, used only when
// the directory reports the target token offline.
type Pusher interface {
	SendToUser(ctx context.Context, userToken string, msg PushMessage) error
}

// CommentEvent carries the comment fields the notification triggers need.
type CommentEvent struct {
	CommentID      string
	SiteID         string
	PageIdentifier string
	Content        string
	AuthorNickname string
	AuthorToken    string
	ParentID       string
}

// Service turns comment lifecycle events into notifications. Every trigger is
// fire-and-forget: failures are logged and swallowed so a notification can
// never fail the request that created the comment.
type Service struct {
	dispatcher *Dispatcher
	dir        directory.Directory
	comments   Comments
	pusher     Pusher
	logger     *slog.Logger
}

func NewService(dispatcher *Dispatcher, dir directory.Directory, comments Comments, pusher Pusher, logger *slog.Logger) *Service {
	return &Service{
		dispatcher: dispatcher,
		dir:        dir,
		comments:   comments,
		pusher:     pusher,
		logger:     logger.With(slog.String("component", "notify_service")),
	}
}

// CommentCreated broadcasts a new_comment to everyone on the page and, when
// the comment is a reply, sends a targeted comment_reply to the parent's
// author.
func (s *Service) CommentCreated(ctx context.Context, ev CommentEvent) {
	n := &protocol.Notification{
		Type:      protocol.TypeNewComment,
		Data:      ev.data(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Error("new_comment dispatch rejected", slog.Any("error", err))
	}

	if ev.ParentID != "" {
		s.commentReply(ctx, ev)
	}
}

func (s *Service) commentReply(ctx context.Context, ev CommentEvent) {
	parentToken, err := s.comments.ParentAuthorToken(ctx, ev.CommentID)
	if err != nil {
		s.logger.Warn("could not resolve parent author, skipping reply notification",
			slog.String("commentID", ev.CommentID), slog.Any("error", err))
		return
	}
	if parentToken == "" || parentToken == ev.AuthorToken {
		// no parent, or the author replied to themselves
		return
	}

	n := &protocol.Notification{
		Type:        protocol.TypeCommentReply,
		TargetToken: parentToken,
		Data:        ev.data(),
		Timestamp:   time.Now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Error("comment_reply dispatch rejected", slog.Any("error", err))
		return
	}
	s.pushIfOffline(ctx, parentToken, PushMessage{
		Title: "New reply to your comment",
		Body:  ev.Content,
	})
}

// CommentApproved notifies the comment's author that moderation let the
// comment through.
func (s *Service) CommentApproved(ctx context.Context, ev CommentEvent) {
	s.moderationResult(ctx, ev, protocol.TypeCommentApproved, "Your comment was approved")
}

// CommentRejected notifies the comment's author that moderation rejected the
// comment.
func (s *Service) CommentRejected(ctx context.Context, ev CommentEvent) {
	s.moderationResult(ctx, ev, protocol.TypeCommentRejected, "Your comment was rejected")
}

func (s *Service) moderationResult(ctx context.Context, ev CommentEvent, msgType, pushTitle string) {
	if ev.AuthorToken == "" {
		s.logger.Warn("moderation event without author token, dropping",
			slog.String("commentID", ev.CommentID), slog.String("type", msgType))
		return
	}
	n := &protocol.Notification{
		Type:        msgType,
		TargetToken: ev.AuthorToken,
		Data:        ev.data(),
		Timestamp:   time.Now().UTC(),
	}
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.Error("moderation dispatch rejected",
			slog.String("type", msgType), slog.Any("error", err))
		return
	}
	s.pushIfOffline(ctx, ev.AuthorToken, PushMessage{Title: pushTitle, Body: ev.Content})
}

// pushIfOffline routes through the push collaborator when the target has no
// live directory registration. Best-effort on both checks.
func (s *Service) pushIfOffline(ctx context.Context, userToken string, msg PushMessage) {
	if s.pusher == nil {
		return
	}
	online, err := s.dir.IsOnline(ctx, userToken)
	if err != nil || online {
		return
	}
	if err := s.pusher.SendToUser(ctx, userToken, msg); err != nil {
		s.logger.Warn("push delivery failed",
			slog.String("userToken", userToken), slog.Any("error", err))
	}
}

func (ev CommentEvent) data() protocol.NotificationData {
	return protocol.NotificationData{
		CommentID:      ev.CommentID,
		SiteID:         ev.SiteID,
		PageIdentifier: ev.PageIdentifier,
		Content:        ev.Content,
		AuthorNickname: ev.AuthorNickname,
		ParentID:       ev.ParentID,
	}
}
