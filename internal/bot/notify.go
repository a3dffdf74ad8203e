package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/auth"
	"github.com/quire-api/microsoft-teams/internal/metrics"
	"github.com/quire-api/microsoft-teams/internal/quire"
)

// Quire notification types. Only AddTask gets a rich card; everything
// else is relayed as the pre-rendered notification message.
const (
	NotifyAddTask              = 0
	NotifyRemoveTask           = 1
	NotifyEditTask             = 3
	NotifyMoveTask             = 4
	NotifyComplete             = 5
	NotifyUncomplete           = 6
	NotifyAssign               = 7
	NotifyUnassign             = 8
	NotifySetDue               = 9
	NotifyUnsetDue             = 10
	NotifySetState             = 11
	NotifyAddTaskComment       = 16
	NotifyAddTaskAttachment    = 20
	NotifyRemoveTaskAttachment = 21
	NotifySetTag               = 28
	NotifyUnsetTag             = 29
	NotifySetPriority          = 35
	NotifySetStart             = 38
	NotifyUnsetStart           = 39
	NotifyRemindStart          = 80
	NotifyRemindDue            = 81
	NotifyRemindOverdue        = 82
	NotifySetBoard             = 85
	NotifyUnsetBoard           = 86
	NotifyAddProject           = 100
	NotifyRemoveProject        = 101
	NotifyAddProjectMember     = 104
	NotifyRemoveProjectMember  = 105
	NotifyAddProjectComment    = 109
	NotifyAddProjectAttachment = 110
)

// notification is the webhook payload Quire delivers for a followed
// project or task.
type notification struct {
	Channel string           `json:"channel"`
	Data    notificationData `json:"data"`
}

type notificationData struct {
	Type    int    `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	What    *struct {
		OID string `json:"oid"`
	} `json:"what,omitempty"`
}

// Notifier relays Quire webhook notifications into the Teams
// conversation that follows the originating project or task. Task
// lookups run with the application's own Quire credential since a
// notification is not tied to any one user's session.
type Notifier struct {
	quire       *quire.Client
	quireTokens *auth.ClientTokenSource
	connector   *Connector
	cards       *Cards
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewNotifier creates a notification relay. m may be nil.
func NewNotifier(client *quire.Client, quireTokens *auth.ClientTokenSource, connector *Connector, cards *Cards, m *metrics.Metrics, logger zerolog.Logger) *Notifier {
	return &Notifier{
		quire:       client,
		quireTokens: quireTokens,
		connector:   connector,
		cards:       cards,
		metrics:     m,
		logger:      logger,
	}
}

// HandleWebhook is the handler for POST /webhook/{conversationID}. The
// follower handle registered with Quire routes each notification to its
// conversation; the service URL rides along in the payload's channel
// field.
//
// A connector 403 means the bot was removed from the conversation and
// is surfaced so Quire stops delivering; any other failure is logged
// and acknowledged to avoid redelivery storms.
func (n *Notifier) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationID")

	var payload notification
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		n.count("invalid")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	err := n.deliver(ctx, conversationID, payload)
	if err == nil {
		n.count("delivered")
		w.WriteHeader(http.StatusOK)
		return
	}

	if errors.Is(err, ErrConversationForbidden) || quire.IsKind(err, quire.KindForbidden) {
		n.count("forbidden")
		n.logger.Info().Str("conversation_id", conversationID).Msg("Conversation no longer reachable")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	n.count("error")
	n.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Notification delivery failed")
	w.WriteHeader(http.StatusOK)
}

func (n *Notifier) deliver(ctx context.Context, conversationID string, payload notification) error {
	serviceURL := payload.Channel
	data := payload.Data

	if data.Type == NotifyAddTask && data.What != nil {
		token, err := n.quireTokens.Token(ctx)
		if err != nil {
			return err
		}
		task, err := n.quire.Task(ctx, token, data.What.OID)
		if err != nil {
			return err
		}
		card := n.cards.WithHeader(n.cards.Task(task, ""), data.Text)
		return n.connector.Send(ctx, serviceURL, conversationID, CardMessage(card))
	}

	return n.connector.Send(ctx, serviceURL, conversationID, TextMessage(data.Message))
}

func (n *Notifier) count(outcome string) {
	if n.metrics != nil {
		n.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}
