package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/auth"
	"github.com/quire-api/microsoft-teams/internal/metrics"
	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/internal/quire"
	"github.com/quire-api/microsoft-teams/internal/storage"
)

// Dialog fetch ids carried by card buttons that open a task module.
const (
	fetchAddTask         = "addTask_fetch"
	fetchAddComment      = "addComment_fetch"
	fetchLinkProject     = "linkProject_fetch"
	fetchFollowProject   = "followProject_fetch"
	fetchUnfollowProject = "unfollowProject_fetch"
)

// Submit action ids carried by card buttons.
const (
	actionChangeProject   = "changeProject_submit"
	actionSetProject      = "setProject_submit"
	actionAddTask         = "addTask_submit"
	actionAddComment      = "addComment_submit"
	actionLinkProject     = "linkProject_submit"
	actionFollowProject   = "followProject_submit"
	actionUnfollowProject = "unfollowProject_submit"
	actionFollowTask      = "followTask_submit"
	actionUnlinkProject   = "unlinkProject_submit"
	actionTaskComplete    = "taskComplete_submit"
)

// fetchDescriptions maps a dialog to the phrase used in its sign-in
// prompt.
var fetchDescriptions = map[string]string{
	fetchAddTask:         "adding a new task",
	fetchAddComment:      "adding a comment",
	fetchLinkProject:     "linking a project",
	fetchFollowProject:   "following a project",
	fetchUnfollowProject: "unfollowing a project",
}

const (
	transientFailureText = "Service is unavailable, please try again later"
	forbiddenText        = "You don't have permission to do that in Quire"
	notFoundText         = "That Quire resource could not be found, it may have been removed"
	timeoutText          = "The search session timed out, please try again"
)

// Bot handles Teams activities for the Quire integration.
type Bot struct {
	quire        *quire.Client
	sessions     *auth.Manager
	broker       *auth.CodeBroker
	store        storage.Store
	connector    *Connector
	cards        *Cards
	authStartURL string
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Config carries the bot's collaborators.
type Config struct {
	Quire        *quire.Client
	Sessions     *auth.Manager
	Broker       *auth.CodeBroker
	Store        storage.Store
	Connector    *Connector
	AuthStartURL string
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// New creates a bot.
func New(cfg Config) *Bot {
	return &Bot{
		quire:        cfg.Quire,
		sessions:     cfg.Sessions,
		broker:       cfg.Broker,
		store:        cfg.Store,
		connector:    cfg.Connector,
		cards:        NewCards(cfg.AuthStartURL),
		authStartURL: cfg.AuthStartURL,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// HandleActivity is the messaging endpoint handler.
func (b *Bot) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var activity Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		http.Error(w, "invalid activity", http.StatusBadRequest)
		return
	}

	switch activity.Type {
	case activityMessage:
		b.handleMessage(ctx, &activity)
		w.WriteHeader(http.StatusOK)
	case activityInvoke:
		b.handleInvoke(ctx, w, &activity)
	case activityConversationUpdate:
		b.handleConversationUpdate(ctx, &activity)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleMessage dispatches a chat command.
func (b *Bot) handleMessage(ctx context.Context, activity *Activity) {
	command := strings.ToLower(stripMentions(activity))
	userID := activity.From.ID

	loggedIn, err := b.sessions.IsLoggedIn(userID)
	if err != nil {
		b.turnError(ctx, activity, err)
		return
	}

	switch command {
	case "add task", "create task":
		if loggedIn {
			b.replyCard(ctx, activity, b.cards.AddTaskButton())
		} else {
			b.replyCard(ctx, activity, b.cards.NeedToLogin("adding a new task"))
		}
	case "link project":
		if loggedIn {
			b.replyCard(ctx, activity, b.cards.LinkProjectButton())
		} else {
			b.replyCard(ctx, activity, b.cards.NeedToLogin("linking a project"))
		}
	case "follow project":
		if loggedIn {
			b.replyCard(ctx, activity, b.cards.FollowProjectButton())
		} else {
			b.replyCard(ctx, activity, b.cards.NeedToLogin("following a project"))
		}
	case "unfollow project":
		if loggedIn {
			b.replyCard(ctx, activity, b.cards.UnfollowProjectButton())
		} else {
			b.replyCard(ctx, activity, b.cards.NeedToLogin("unfollowing a project"))
		}
	case "unlink project":
		if err := b.store.DeleteLinkedProject(conversationID(activity)); err != nil {
			b.turnError(ctx, activity, err)
			return
		}
		b.replyText(ctx, activity, "This channel is unlink now")
	case "login":
		if loggedIn {
			b.replyText(ctx, activity, "Hey, you're already logged in.")
		} else {
			b.replyCard(ctx, activity, b.cards.LoginButton())
		}
	case "logout":
		if isGroup(activity) {
			b.replyCard(ctx, activity, b.cards.Signout())
			return
		}
		if err := b.store.DeleteToken(userID); err != nil {
			b.turnError(ctx, activity, err)
			return
		}
		b.countLogout()
		b.replyCard(ctx, activity, b.cards.LogoutMessage())
	case "help":
		b.replyCard(ctx, activity, b.cards.Help())
	case "take a tour":
		b.reply(ctx, activity, CarouselMessage(b.cards.Tour()))
	default:
		if len(activity.Attachments) > 0 {
			return // ignore messages with attachments
		}
		if len(activity.Value) > 0 {
			// Submit from a card posted into the conversation.
			var data cardData
			if err := json.Unmarshal(activity.Value, &data); err == nil {
				b.handleCardButton(ctx, activity, data)
				return
			}
		}
		b.replyCard(ctx, activity, b.cards.UnknownCommand())
	}
}

func isGroup(activity *Activity) bool {
	t := activity.Conversation.ConversationType
	return t == "groupChat" || t == "channel"
}

// handleCardButton handles submits from cards sitting in the message
// stream, as opposed to submits from an open dialog.
func (b *Bot) handleCardButton(ctx context.Context, activity *Activity, data cardData) {
	userID := activity.From.ID
	switch data.ActionID {
	case actionTaskComplete:
		var task models.Task
		err := b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			var err error
			task, err = b.quire.CompleteTask(ctx, token, data.TaskOID)
			return err
		})
		if err != nil {
			b.turnError(ctx, activity, err)
			return
		}
		b.replyCard(ctx, activity, b.cards.TaskComplete(task))
	case actionFollowTask:
		err := b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.AddTaskFollower(ctx, token, data.TaskOID, conversationID(activity), activity.ServiceURL)
		})
		if err != nil {
			b.turnError(ctx, activity, err)
			return
		}
		b.replyText(ctx, activity, fmt.Sprintf("Is following %s now", data.TaskName))
	default:
		b.logger.Warn().Str("action_id", data.ActionID).Msg("Unhandled card button")
		b.replyCard(ctx, activity, b.cards.UnknownError())
	}
}

// handleConversationUpdate greets new conversations, tracks the teams
// the bot belongs to, and cleans up after the bot is removed.
func (b *Bot) handleConversationUpdate(ctx context.Context, activity *Activity) {
	botID := activity.Recipient.ID

	for _, member := range activity.MembersRemoved {
		if member.ID == botID {
			b.botRemoved(ctx, activity)
			return
		}
	}

	knownTeam := false
	if activity.ChannelData != nil && activity.ChannelData.Team != nil {
		teamID := activity.ChannelData.Team.ID
		known, err := b.store.HasTeam(teamID)
		if err != nil {
			b.logger.Error().Err(err).Msg("Failed to look up team")
		}
		knownTeam = known
		if err := b.store.AddTeam(teamID); err != nil {
			b.logger.Error().Err(err).Msg("Failed to record team")
		}
	}

	for _, member := range activity.MembersAdded {
		if member.ID == botID {
			// A re-add to a tracked team skips the welcome card.
			if !knownTeam {
				b.replyCard(ctx, activity, b.cards.Welcome())
			}
			return
		}
	}
}

// botRemoved forgets everything tracked for a conversation the bot was
// removed from: the team record, the linked project, and the follow
// registrations, including the follower handles on the Quire side.
func (b *Bot) botRemoved(ctx context.Context, activity *Activity) {
	if activity.ChannelData != nil && activity.ChannelData.Team != nil {
		if err := b.store.RemoveTeam(activity.ChannelData.Team.ID); err != nil {
			b.logger.Error().Err(err).Msg("Failed to forget team")
		}
	}

	convID := conversationID(activity)
	session := b.sessions.Session(activity.From.ID)

	if project, err := b.store.GetLinkedProject(convID); err == nil {
		if err := b.store.DeleteLinkedProject(convID); err != nil {
			b.logger.Error().Err(err).Str("conversation_id", convID).Msg("Failed to unlink project")
		}
		err := session.Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.RemoveProjectFollower(ctx, token, project.OID, convID, activity.ServiceURL)
		})
		if err != nil {
			b.logger.Warn().Err(err).Str("project_oid", project.OID).Msg("Failed to remove project follower")
		}
	}

	followed, err := b.store.FollowedProjects(convID)
	if err != nil {
		b.logger.Error().Err(err).Str("conversation_id", convID).Msg("Failed to list followed projects")
		return
	}
	for _, project := range followed {
		if err := b.store.DeleteFollowedProject(convID, project.OID); err != nil {
			b.logger.Error().Err(err).Str("project_oid", project.OID).Msg("Failed to forget followed project")
			continue
		}
		err := session.Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.RemoveProjectFollower(ctx, token, project.OID, convID, activity.ServiceURL)
		})
		if err != nil {
			b.logger.Warn().Err(err).Str("project_oid", project.OID).Msg("Failed to remove project follower")
		}
	}
}

// handleInvoke dispatches card and messaging extension invokes. The
// response body, when non-nil, is the invoke result Teams renders.
func (b *Bot) handleInvoke(ctx context.Context, w http.ResponseWriter, activity *Activity) {
	var response interface{}
	var err error

	switch activity.Name {
	case invokeSigninVerifyState:
		err = b.handleSigninVerify(ctx, activity)
	case invokeTaskFetch:
		response, err = b.handleTaskModuleFetch(ctx, activity)
	case invokeTaskSubmit:
		response, err = b.handleTaskModuleSubmit(ctx, activity)
	case invokeComposeFetchTask:
		response, err = b.handleComposeFetchTask(ctx, activity)
	case invokeComposeSubmitAction:
		response, err = b.handleComposeSubmitAction(ctx, activity)
	case invokeComposeQuery:
		response, err = b.handleComposeQuery(ctx, activity)
	case invokeComposeCardButton:
		var data cardData
		if uerr := json.Unmarshal(activity.Value, &data); uerr == nil {
			b.handleCardButton(ctx, activity, data)
		}
	default:
		b.logger.Warn().Str("invoke", activity.Name).Msg("Unhandled invoke")
	}

	if err != nil {
		b.turnError(ctx, activity, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if response != nil {
		json.NewEncoder(w).Encode(response)
	}
}

// handleSigninVerify completes the sign-in flow: the Teams client
// passes back the verification code minted by the auth-end page.
func (b *Bot) handleSigninVerify(ctx context.Context, activity *Activity) error {
	var state signinVerifyState
	if err := json.Unmarshal(activity.Value, &state); err != nil {
		return err
	}

	token, ok := b.broker.Redeem(state.State)
	if !ok {
		b.replyText(ctx, activity, "Authentication failed!!!")
		return nil
	}

	if err := b.store.PutToken(activity.From.ID, token); err != nil {
		return err
	}
	b.countLogin()
	b.logger.Info().Str("user_id", activity.From.ID).Msg("User logged in")
	b.replyCard(ctx, activity, b.cards.LoginSuccess())
	return nil
}

func (b *Bot) countLogin() {
	if b.metrics != nil {
		b.metrics.LoginsTotal.Inc()
	}
}

func (b *Bot) countLogout() {
	if b.metrics != nil {
		b.metrics.LogoutsTotal.Inc()
	}
}

// handleTaskModuleFetch opens a dialog from a card button.
func (b *Bot) handleTaskModuleFetch(ctx context.Context, activity *Activity) (*taskModuleResponse, error) {
	var req taskModuleRequest
	if err := json.Unmarshal(activity.Value, &req); err != nil {
		return nil, err
	}

	response, err := b.fetchDialog(ctx, activity, req.Data.FetchID, req.Data, false)
	if errors.Is(err, auth.ErrLoginRequired) || quire.IsUnauthorized(err) {
		b.replyCard(ctx, activity, b.cards.NeedToLogin(fetchDescriptions[req.Data.FetchID]))
		return nil, nil
	}
	return response, err
}

// fetchDialog builds the dialog for a fetch id. extension marks calls
// arriving from a messaging extension, which must answer with a dialog
// instead of posting into the conversation.
func (b *Bot) fetchDialog(ctx context.Context, activity *Activity, fetchID string, data cardData, extension bool) (*taskModuleResponse, error) {
	userID := activity.From.ID

	switch fetchID {
	case fetchAddTask:
		linked, err := b.store.GetLinkedProject(conversationID(activity))
		if errors.Is(err, models.ErrLinkedProjectNotFound) {
			if extension {
				return dialog("Add Task", b.cards.NeedToLinkProject()), nil
			}
			b.replyCard(ctx, activity, b.cards.NeedToLinkProject())
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		var users []models.User
		err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			var err error
			users, err = b.quire.ProjectUsers(ctx, token, linked.OID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return dialog("Add Task", b.cards.AddTask(linked, users)), nil

	case fetchAddComment:
		return dialog("Add Comment", b.cards.AddComment(data.TaskName, data.TaskOID)), nil

	case fetchLinkProject:
		linked, err := b.store.GetLinkedProject(conversationID(activity))
		if err != nil && !errors.Is(err, models.ErrLinkedProjectNotFound) {
			return nil, err
		}
		projects, err := b.userProjects(ctx, userID)
		if err != nil {
			return nil, err
		}
		return dialog("Link Project", b.cards.LinkProject(linked, projects)), nil

	case fetchFollowProject:
		projects, err := b.userProjects(ctx, userID)
		if err != nil {
			return nil, err
		}
		return dialog("Follow Project", b.cards.FollowProject(projects)), nil

	case fetchUnfollowProject:
		followed, err := b.store.FollowedProjects(conversationID(activity))
		if err != nil {
			return nil, err
		}
		if len(followed) == 0 {
			return dialog("Unfollow Project", b.cards.SimpleMessage("This channel doesn't follow any project.")), nil
		}
		return dialog("Unfollow Project", b.cards.UnfollowProject(followed)), nil

	default:
		b.logger.Warn().Str("fetch_id", fetchID).Msg("Unhandled dialog fetch")
		return nil, nil
	}
}

func (b *Bot) userProjects(ctx context.Context, userID string) ([]models.Project, error) {
	var projects []models.Project
	err := b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
		var err error
		projects, err = b.quire.Projects(ctx, token)
		return err
	})
	return projects, err
}

// handleTaskModuleSubmit handles a dialog submit.
func (b *Bot) handleTaskModuleSubmit(ctx context.Context, activity *Activity) (*taskModuleResponse, error) {
	var req taskModuleRequest
	if err := json.Unmarshal(activity.Value, &req); err != nil {
		return nil, err
	}
	return b.submitDialog(ctx, activity, req.Data)
}

func (b *Bot) submitDialog(ctx context.Context, activity *Activity, data cardData) (*taskModuleResponse, error) {
	userID := activity.From.ID

	switch data.ActionID {
	case actionChangeProject:
		origin, err := parseLinkedProject(data.Project)
		if err != nil {
			return nil, err
		}
		projects, err := b.userProjects(ctx, userID)
		if err != nil {
			return nil, err
		}
		return dialog("Change Project", b.cards.ChangeProject(origin, projects)), nil

	case actionSetProject:
		raw := data.ChangeProjectInput
		if raw == "" {
			raw = string(data.OriginProject)
		}
		selected, err := parseLinkedProject(json.RawMessage(raw))
		if err != nil {
			return nil, err
		}

		var users []models.User
		err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			var err error
			users, err = b.quire.ProjectUsers(ctx, token, selected.OID)
			return err
		})
		if err != nil {
			return nil, err
		}
		return dialog("Add Task", b.cards.AddTask(selected, users)), nil

	case actionAddTask:
		if data.TaskNameInput == "" {
			return dialog("Add Task", b.cards.SimpleMessage("Please input task name!")), nil
		}
		project, err := parseLinkedProject(data.Project)
		if err != nil {
			return nil, err
		}
		newTask := models.NewTask{
			Name:        data.TaskNameInput,
			Due:         data.DueDateInput,
			Description: data.DescriptionInput,
		}
		if data.Assignee != "" {
			assignee, err := parseLinkedProject(json.RawMessage(data.Assignee))
			if err == nil && assignee.OID != "" {
				newTask.Assignees = []string{assignee.OID}
			}
		}

		var task models.Task
		err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			var err error
			task, err = b.quire.AddTask(ctx, token, project.OID, newTask)
			return err
		})
		if err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, "Your new task has been added to Quire.")
		b.replyCard(ctx, activity, b.cards.Task(task, project.NameText))
		return nil, nil

	case actionAddComment:
		if data.CommentInput == "" {
			return dialog("Add Comment", b.cards.SimpleMessage("Please input comment!")), nil
		}
		err := b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.AddComment(ctx, token, data.TaskOID, data.CommentInput)
		})
		if err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, fmt.Sprintf("Your comment has been added to %s", data.TaskName))
		return nil, nil

	case actionLinkProject:
		project, err := parseLinkedProject(json.RawMessage(data.LinkProjectInput))
		if err != nil {
			return nil, err
		}
		if err := b.store.PutLinkedProject(conversationID(activity), project); err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, fmt.Sprintf("You have successfully linked %s to this channel", project.NameText))
		return nil, nil

	case actionFollowProject:
		if data.FollowProjectInput == "" {
			return nil, nil
		}
		project, err := parseLinkedProject(json.RawMessage(data.FollowProjectInput))
		if err != nil {
			return nil, err
		}
		err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.AddProjectFollower(ctx, token, project.OID, conversationID(activity), activity.ServiceURL)
		})
		if err != nil {
			return nil, err
		}
		if err := b.store.PutFollowedProject(conversationID(activity), project); err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, fmt.Sprintf("You have successfully followed %s to this channel", project.NameText))
		return nil, nil

	case actionUnfollowProject:
		if data.UnfollowProjectInput == "" {
			return nil, nil
		}
		project, err := parseLinkedProject(json.RawMessage(data.UnfollowProjectInput))
		if err != nil {
			return nil, err
		}
		err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.RemoveProjectFollower(ctx, token, project.OID, conversationID(activity), activity.ServiceURL)
		})
		if err != nil {
			return nil, err
		}
		if err := b.store.DeleteFollowedProject(conversationID(activity), project.OID); err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, fmt.Sprintf("This channel has unfollowed %s", project.NameText))
		return nil, nil

	case actionFollowTask:
		err := b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
			return b.quire.AddTaskFollower(ctx, token, data.TaskOID, conversationID(activity), activity.ServiceURL)
		})
		if err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, fmt.Sprintf("You have successfully followed %s", data.TaskName))
		return nil, nil

	case actionUnlinkProject:
		if err := b.store.DeleteLinkedProject(conversationID(activity)); err != nil {
			return nil, err
		}
		b.replyText(ctx, activity, "This channel is unlink now")
		return nil, nil

	default:
		// A submit without an action id from the link dialog reopens it.
		if data.FetchID == fetchLinkProject {
			return b.fetchDialog(ctx, activity, fetchLinkProject, data, false)
		}
		b.logger.Warn().Str("action_id", data.ActionID).Msg("Unhandled dialog submit")
		return nil, nil
	}
}

// composeLoginAction prompts sign-in from a messaging extension.
func (b *Bot) composeLoginAction() *composeExtensionResponse {
	return &composeExtensionResponse{
		ComposeExtension: &composeExtensionResult{
			Type: "auth",
			SuggestedActions: &suggestedActions{
				Actions: []cardAction{
					{Type: "openUrl", Value: b.authStartURL, Title: "Log in to Quire"},
				},
			},
		},
	}
}

func composeMessage(text string) *composeExtensionResponse {
	return &composeExtensionResponse{
		ComposeExtension: &composeExtensionResult{Type: "message", Text: text},
	}
}

// redeemState stores the token carried by a messaging extension state
// parameter. Returns false when the code is unknown or expired.
func (b *Bot) redeemState(userID, state string) (bool, error) {
	token, ok := b.broker.Redeem(state)
	if !ok {
		return false, nil
	}
	if err := b.store.PutToken(userID, token); err != nil {
		return false, err
	}
	b.countLogin()
	return true, nil
}

// handleComposeFetchTask opens a dialog from a messaging extension
// command.
func (b *Bot) handleComposeFetchTask(ctx context.Context, activity *Activity) (*composeExtensionResponse, error) {
	var action composeExtensionAction
	if err := json.Unmarshal(activity.Value, &action); err != nil {
		return nil, err
	}

	if action.State != "" {
		ok, err := b.redeemState(activity.From.ID, action.State)
		if err != nil {
			return nil, err
		}
		if !ok {
			return composeMessage("authentication failed!"), nil
		}
	}

	fetchID := strings.Replace(action.CommandID, "extension", "fetch", 1)
	response, err := b.fetchDialog(ctx, activity, fetchID, action.Data, true)
	if errors.Is(err, auth.ErrLoginRequired) || quire.IsUnauthorized(err) {
		return b.composeLoginAction(), nil
	}
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, nil
	}
	return &composeExtensionResponse{Task: response.Task}, nil
}

// handleComposeSubmitAction handles a messaging extension dialog
// submit. The payload matches the task module submit shape.
func (b *Bot) handleComposeSubmitAction(ctx context.Context, activity *Activity) (*composeExtensionResponse, error) {
	var action composeExtensionAction
	if err := json.Unmarshal(activity.Value, &action); err != nil {
		return nil, err
	}

	response, err := b.submitDialog(ctx, activity, action.Data)
	if errors.Is(err, auth.ErrLoginRequired) || quire.IsUnauthorized(err) {
		return b.composeLoginAction(), nil
	}
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, nil
	}
	return &composeExtensionResponse{Task: response.Task}, nil
}

// handleComposeQuery serves the messaging extension search box: the
// initial run lists the linked project's root tasks, subsequent
// keystrokes search.
func (b *Bot) handleComposeQuery(ctx context.Context, activity *Activity) (*composeExtensionResponse, error) {
	var query composeExtensionQuery
	if err := json.Unmarshal(activity.Value, &query); err != nil {
		return nil, err
	}
	userID := activity.From.ID

	if query.State != "" {
		ok, err := b.redeemState(userID, query.State)
		if err != nil {
			return nil, err
		}
		if !ok {
			return composeMessage("authentication failed!!!"), nil
		}
	}

	linked, err := b.store.GetLinkedProject(conversationID(activity))
	if errors.Is(err, models.ErrLinkedProjectNotFound) {
		return composeMessage("Please link a Quire project first."), nil
	}
	if err != nil {
		return nil, err
	}

	var tasks []models.Task
	err = b.sessions.Session(userID).Do(ctx, func(ctx context.Context, token models.Token) error {
		var err error
		if len(query.Parameters) > 0 && query.Parameters[0].Name != "initialRun" {
			tasks, err = b.quire.SearchTasks(ctx, token, linked.OID, query.Parameters[0].Value)
		} else {
			tasks, err = b.quire.RootTasks(ctx, token, linked.OID)
		}
		return err
	})
	if errors.Is(err, auth.ErrLoginRequired) || quire.IsUnauthorized(err) {
		return b.composeLoginAction(), nil
	}
	if err != nil {
		return nil, err
	}

	attachments := make([]Attachment, 0, len(tasks))
	for _, task := range tasks {
		attachment := cardAttachment(b.cards.TaskWithFollow(task, linked.NameText))
		attachment.Preview = &Attachment{
			ContentType: "application/vnd.microsoft.card.thumbnail",
			Content: map[string]string{
				"title": task.Name,
				"text":  task.Description,
			},
		}
		attachments = append(attachments, attachment)
	}

	return &composeExtensionResponse{
		ComposeExtension: &composeExtensionResult{
			Type:             "result",
			AttachmentLayout: "list",
			Attachments:      attachments,
		},
	}, nil
}

// turnError reports an operation failure back into the conversation.
// Each remote failure kind gets its own message, missing credentials
// get a sign-in card, everything else gets the generic error card.
func (b *Bot) turnError(ctx context.Context, activity *Activity, err error) {
	switch {
	case errors.Is(err, auth.ErrLoginRequired) || quire.IsUnauthorized(err):
		b.replyCard(ctx, activity, b.cards.LoginButton())
	case quire.IsKind(err, quire.KindForbidden):
		b.logger.Warn().Err(err).Msg("Remote call forbidden")
		b.replyText(ctx, activity, forbiddenText)
	case quire.IsKind(err, quire.KindNotFound):
		b.logger.Warn().Err(err).Msg("Remote resource not found")
		b.replyText(ctx, activity, notFoundText)
	case quire.IsKind(err, quire.KindTimeout):
		b.logger.Warn().Err(err).Msg("Remote call timed out")
		b.replyText(ctx, activity, timeoutText)
	case quire.IsKind(err, quire.KindUnavailable):
		b.logger.Warn().Err(err).Msg("Remote service unavailable")
		b.replyText(ctx, activity, transientFailureText)
	default:
		b.logger.Error().Err(err).Str("conversation_id", conversationID(activity)).Msg("Turn failed")
		b.replyCard(ctx, activity, b.cards.UnknownError())
	}
}

func (b *Bot) reply(ctx context.Context, activity *Activity, msg *Message) {
	if err := b.connector.Reply(ctx, activity, msg); err != nil {
		b.logger.Error().Err(err).Msg("Failed to send reply")
	}
}

func (b *Bot) replyText(ctx context.Context, activity *Activity, text string) {
	b.reply(ctx, activity, TextMessage(text))
}

func (b *Bot) replyCard(ctx context.Context, activity *Activity, card *Card) {
	b.reply(ctx, activity, CardMessage(card))
}

func parseLinkedProject(raw json.RawMessage) (models.LinkedProject, error) {
	var project models.LinkedProject
	if len(raw) == 0 {
		return project, errors.New("missing project payload")
	}
	if err := json.Unmarshal(raw, &project); err != nil {
		return project, fmt.Errorf("parsing project payload: %w", err)
	}
	return project, nil
}
