package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quire-api/microsoft-teams/internal/auth"
)

// ErrConversationForbidden means the connector rejected a send because
// the bot no longer has access to the conversation, typically after
// being removed from it.
var ErrConversationForbidden = errors.New("conversation forbidden")

// Connector sends activities to Teams conversations through the Bot
// Framework connector service, authenticating with the bot's
// client-credentials token.
type Connector struct {
	tokens     *auth.ClientTokenSource
	httpClient *http.Client
}

// NewConnector creates a connector using tokens for authentication.
func NewConnector(tokens *auth.ClientTokenSource) *Connector {
	return &Connector{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Reply posts a message as a reply to an incoming activity.
func (c *Connector) Reply(ctx context.Context, activity *Activity, msg *Message) error {
	url := fmt.Sprintf("%s/v3/conversations/%s/activities/%s",
		strings.TrimSuffix(activity.ServiceURL, "/"),
		activity.Conversation.ID,
		activity.ID,
	)
	return c.post(ctx, url, msg)
}

// Send posts a message to a conversation without replying to a specific
// activity, used for notification delivery.
func (c *Connector) Send(ctx context.Context, serviceURL, conversationID string, msg *Message) error {
	url := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimSuffix(serviceURL, "/"),
		conversationID,
	)
	return c.post(ctx, url, msg)
}

func (c *Connector) post(ctx context.Context, url string, msg *Message) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("connector token: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			// A stale bot token; drop it so the next send fetches anew.
			c.tokens.Invalidate()
		case http.StatusForbidden:
			return fmt.Errorf("connector send to %s: %w", url, ErrConversationForbidden)
		}
		return fmt.Errorf("connector send failed: %d - %s", resp.StatusCode, string(detail))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// TextMessage builds a plain text outgoing activity.
func TextMessage(text string) *Message {
	return &Message{Type: activityMessage, Text: text}
}

// CardMessage builds an outgoing activity carrying one adaptive card.
func CardMessage(card *Card) *Message {
	return &Message{Type: activityMessage, Attachments: []Attachment{cardAttachment(card)}}
}

// CarouselMessage builds an outgoing activity carrying several cards in
// a carousel layout.
func CarouselMessage(cards []*Card) *Message {
	attachments := make([]Attachment, 0, len(cards))
	for _, card := range cards {
		attachments = append(attachments, cardAttachment(card))
	}
	return &Message{Type: activityMessage, AttachmentLayout: "carousel", Attachments: attachments}
}
