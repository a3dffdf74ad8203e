// Package bot implements the Microsoft Teams side of the Quire
// integration: incoming activity dispatch, adaptive cards, the Bot
// Framework connector, and the Quire notification webhook.
package bot

import (
	"encoding/json"
	"strings"
)

// Activity types delivered to the messaging endpoint.
const (
	activityMessage            = "message"
	activityInvoke             = "invoke"
	activityConversationUpdate = "conversationUpdate"
)

// Invoke names used by the Teams client.
const (
	invokeSigninVerifyState   = "signin/verifyState"
	invokeTaskFetch           = "task/fetch"
	invokeTaskSubmit          = "task/submit"
	invokeComposeFetchTask    = "composeExtension/fetchTask"
	invokeComposeSubmitAction = "composeExtension/submitAction"
	invokeComposeQuery        = "composeExtension/query"
	invokeComposeCardButton   = "composeExtension/onCardButtonClicked"
)

// Activity is a Bot Framework activity.
type Activity struct {
	Type           string           `json:"type"`
	ID             string           `json:"id,omitempty"`
	Name           string           `json:"name,omitempty"`
	Timestamp      string           `json:"timestamp,omitempty"`
	ServiceURL     string           `json:"serviceUrl,omitempty"`
	ChannelID      string           `json:"channelId,omitempty"`
	From           ChannelAccount   `json:"from,omitempty"`
	Recipient      ChannelAccount   `json:"recipient,omitempty"`
	Conversation   Conversation     `json:"conversation,omitempty"`
	Text           string           `json:"text,omitempty"`
	Entities       []Entity         `json:"entities,omitempty"`
	ChannelData    *ChannelData     `json:"channelData,omitempty"`
	MembersAdded   []ChannelAccount `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount `json:"membersRemoved,omitempty"`
	Attachments    []Attachment     `json:"attachments,omitempty"`
	Value          json.RawMessage  `json:"value,omitempty"`
	ReplyToID      string           `json:"replyToId,omitempty"`
}

// ChannelAccount is a Teams user or bot.
type ChannelAccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

// Conversation identifies the chat an activity belongs to.
type Conversation struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// Entity is a message entity such as a bot mention.
type Entity struct {
	Type      string          `json:"type"`
	Mentioned *ChannelAccount `json:"mentioned,omitempty"`
	Text      string          `json:"text,omitempty"`
}

// ChannelData carries Teams-specific envelope data.
type ChannelData struct {
	Channel *struct {
		ID string `json:"id"`
	} `json:"channel,omitempty"`
	Team *struct {
		ID string `json:"id"`
	} `json:"team,omitempty"`
	Tenant *struct {
		ID string `json:"id"`
	} `json:"tenant,omitempty"`
	EventType string `json:"eventType,omitempty"`
}

// Attachment is a message attachment, typically an adaptive card.
type Attachment struct {
	ContentType string      `json:"contentType"`
	ContentURL  string      `json:"contentUrl,omitempty"`
	Content     interface{} `json:"content,omitempty"`
	Name        string      `json:"name,omitempty"`
	Preview     *Attachment `json:"preview,omitempty"`
}

// Message is an outgoing activity.
type Message struct {
	Type             string       `json:"type"`
	Text             string       `json:"text,omitempty"`
	TextFormat       string       `json:"textFormat,omitempty"`
	AttachmentLayout string       `json:"attachmentLayout,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

// cardData is the submit payload carried by card actions and task
// module requests. Card inputs are flattened into the same object, so
// every input field across all card templates appears here.
type cardData struct {
	FetchID  string `json:"fetchId,omitempty"`
	ActionID string `json:"actionId,omitempty"`

	TaskOID  string `json:"taskOid,omitempty"`
	TaskName string `json:"taskName,omitempty"`

	// Card inputs.
	TaskNameInput        string `json:"taskName_input,omitempty"`
	DueDateInput         string `json:"dueDate_input,omitempty"`
	DescriptionInput     string `json:"description_input,omitempty"`
	CommentInput         string `json:"comment_input,omitempty"`
	Assignee             string `json:"assignee,omitempty"`
	ChangeProjectInput   string `json:"changeProject_input,omitempty"`
	LinkProjectInput     string `json:"linkProject_input,omitempty"`
	FollowProjectInput   string `json:"followProject_input,omitempty"`
	UnfollowProjectInput string `json:"unfollowProject_input,omitempty"`

	Project       json.RawMessage `json:"project,omitempty"`
	OriginProject json.RawMessage `json:"originProject,omitempty"`
}

// taskModuleRequest is the value of task/fetch and task/submit invokes.
type taskModuleRequest struct {
	Data cardData `json:"data"`
}

// composeExtensionAction is the value of composeExtension/fetchTask and
// composeExtension/submitAction invokes.
type composeExtensionAction struct {
	CommandID string   `json:"commandId,omitempty"`
	State     string   `json:"state,omitempty"`
	Data      cardData `json:"data"`
}

// composeExtensionQuery is the value of composeExtension/query invokes.
type composeExtensionQuery struct {
	CommandID  string `json:"commandId,omitempty"`
	State      string `json:"state,omitempty"`
	Parameters []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"parameters,omitempty"`
}

// signinVerifyState is the value of signin/verifyState invokes.
type signinVerifyState struct {
	State string `json:"state"`
}

// taskModuleResponse is the invoke response that opens or continues a
// task module dialog.
type taskModuleResponse struct {
	Task *taskModuleContinue `json:"task,omitempty"`
}

type taskModuleContinue struct {
	Type  string         `json:"type"`
	Value taskModuleInfo `json:"value"`
}

type taskModuleInfo struct {
	Title  string     `json:"title"`
	Card   Attachment `json:"card"`
	Height int        `json:"height,omitempty"`
	Width  int        `json:"width,omitempty"`
}

func dialog(title string, card *Card) *taskModuleResponse {
	return &taskModuleResponse{
		Task: &taskModuleContinue{
			Type:  "continue",
			Value: taskModuleInfo{Title: title, Card: cardAttachment(card)},
		},
	}
}

// composeExtensionResponse is the invoke response for messaging
// extension requests.
type composeExtensionResponse struct {
	ComposeExtension *composeExtensionResult `json:"composeExtension,omitempty"`
	Task             *taskModuleContinue     `json:"task,omitempty"`
}

type composeExtensionResult struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	AttachmentLayout string            `json:"attachmentLayout,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	SuggestedActions *suggestedActions `json:"suggestedActions,omitempty"`
}

type suggestedActions struct {
	Actions []cardAction `json:"actions"`
}

type cardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// conversationID returns the id used to key links and notifications.
// Channel messages carry the real channel id in channelData; personal
// and group ids sometimes arrive suffixed with ";messageid=..." which
// must be stripped before use as a storage key.
func conversationID(activity *Activity) string {
	if activity.ChannelData != nil && activity.ChannelData.Channel != nil {
		return activity.ChannelData.Channel.ID
	}
	id := activity.Conversation.ID
	if idx := strings.Index(id, ";"); idx != -1 {
		return id[:idx]
	}
	return id
}

// stripMentions removes bot mention entities from the message text.
func stripMentions(activity *Activity) string {
	text := activity.Text
	for _, entity := range activity.Entities {
		if entity.Type == "mention" && entity.Text != "" {
			text = strings.Replace(text, entity.Text, "", 1)
		}
	}
	return strings.TrimSpace(text)
}
