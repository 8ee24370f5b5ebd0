package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// inboxQuery pre-filters the message list server-side. The same filter is
// re-applied per message because upstream query filters are best-effort.
const inboxQuery = "in:inbox -category:promotions"

// overFetchFactor compensates for messages dropped by post-filtering when
// listing recent mail.
const overFetchFactor = 2

// Message is the normalized view of a Gmail message used by the pipeline.
type Message struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	Snippet  string
	Body     string
	Labels   []string
	Received time.Time
}

// Primary reports whether the message sits in the primary inbox rather
// than a promotional or junk category.
func (m *Message) Primary() bool {
	inInbox := false
	for _, label := range m.Labels {
		switch label {
		case "CATEGORY_PROMOTIONS", "SPAM", "TRASH":
			return false
		case "INBOX":
			inInbox = true
		}
	}
	return inInbox
}

// Client wraps the Gmail API for a single account. A client carries one
// account's credential and is constructed per run.
type Client struct {
	svc *gmail.Service
}

// NewClient creates a Gmail client bound to the given token.
func NewClient(ctx context.Context, token *oauth2.Token) (*Client, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// GetMessage fetches a single message by id. Returns (nil, nil) when the
// message no longer exists.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return parseMessage(msg), nil
}

// ListRecent returns up to limit primary-inbox messages, newest first. It
// over-fetches to compensate for post-filtering.
func (c *Client) ListRecent(ctx context.Context, limit int) ([]Message, error) {
	response, err := c.svc.Users.Messages.List("me").
		Q(inboxQuery).
		MaxResults(int64(limit * overFetchFactor)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var messages []Message
	for _, ref := range response.Messages {
		if len(messages) >= limit {
			break
		}
		msg, err := c.GetMessage(ctx, ref.Id)
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}
		if msg == nil || !msg.Primary() {
			continue
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

// ResolveSince returns the messages added since the given cursor along
// with the new cursor. A stale cursor is not an error: it yields an empty
// result and an empty cursor, signaling the caller to fall back.
func (c *Client) ResolveSince(ctx context.Context, cursor string) ([]Message, string, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		logrus.Warnf("Invalid history cursor %q, treating as stale", cursor)
		return nil, "", nil
	}

	var messageIDs []string
	var newCursor string
	pageToken := ""
	for {
		call := c.svc.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		response, err := call.Do()
		if err != nil {
			if isNotFound(err) {
				// The cursor rotated out of the history window.
				return nil, "", nil
			}
			return nil, "", fmt.Errorf("failed to list history: %w", err)
		}

		if response.HistoryId > 0 {
			newCursor = strconv.FormatUint(response.HistoryId, 10)
		}
		for _, h := range response.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					messageIDs = append(messageIDs, added.Message.Id)
				}
			}
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
	}

	var messages []Message
	seen := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", id, err)
			continue
		}
		if msg == nil || !msg.Primary() {
			continue
		}
		messages = append(messages, *msg)
	}

	return messages, newCursor, nil
}

// RegisterWatch registers a push notification watch on the inbox and
// returns the current cursor plus the watch expiry.
func (c *Client) RegisterWatch(ctx context.Context, topic string) (string, time.Time, error) {
	response, err := c.svc.Users.Watch("me", &gmail.WatchRequest{
		TopicName:         topic,
		LabelIds:          []string{"INBOX"},
		LabelFilterAction: "include",
	}).Context(ctx).Do()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to register watch: %w", err)
	}

	cursor := strconv.FormatUint(response.HistoryId, 10)
	expiry := time.UnixMilli(response.Expiration)
	return cursor, expiry, nil
}

// StopWatch deregisters the inbox watch.
func (c *Client) StopWatch(ctx context.Context) error {
	if err := c.svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to stop watch: %w", err)
	}
	return nil
}

// parseMessage converts a raw Gmail API message into the normalized form.
func parseMessage(msg *gmail.Message) *Message {
	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
		Received: time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				out.Subject = header.Value
			case "From":
				out.From = header.Value
			}
		}
		out.Body = extractBody(msg.Payload)
	}

	return out
}

// extractBody walks the MIME tree and returns the first text/plain part,
// falling back to text/html.
func extractBody(part *gmail.MessagePart) string {
	plain, html := collectBodies(part)
	if plain != "" {
		return plain
	}
	return html
}

func collectBodies(part *gmail.MessagePart) (plain, html string) {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				plain = string(data)
			case "text/html":
				html = string(data)
			}
		}
	}

	for _, sub := range part.Parts {
		p, h := collectBodies(sub)
		if plain == "" {
			plain = p
		}
		if html == "" {
			html = h
		}
	}
	return plain, html
}

func isNotFound(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 404
	}
	return false
}
