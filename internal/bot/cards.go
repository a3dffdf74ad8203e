package bot

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/quire-api/microsoft-teams/internal/models"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

const adaptiveCardSchema = "http://adaptivecards.io/schemas/adaptive-card.json"

// taskDescriptionLimit truncates long task descriptions so a card stays
// renderable.
const taskDescriptionLimit = 4000

// Card is a Microsoft Adaptive Card.
type Card struct {
	Type    string        `json:"type"`
	Schema  string        `json:"$schema,omitempty"`
	Version string        `json:"version"`
	Body    []CardElement `json:"body"`
	Actions []CardSubmit  `json:"actions,omitempty"`
}

// CardElement is a body element of an adaptive card. The Teams client
// renders whatever subset of fields the element type uses.
type CardElement struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	Size        string        `json:"size,omitempty"`
	Weight      string        `json:"weight,omitempty"`
	Wrap        bool          `json:"wrap,omitempty"`
	Style       string        `json:"style,omitempty"`
	Bleed       bool          `json:"bleed,omitempty"`
	URL         string        `json:"url,omitempty"`
	ID          string        `json:"id,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
	Value       string        `json:"value,omitempty"`
	IsMultiline bool          `json:"isMultiline,omitempty"`
	Choices     []CardChoice  `json:"choices,omitempty"`
	Facts       []CardFact    `json:"facts,omitempty"`
	Columns     []CardColumn  `json:"columns,omitempty"`
	Items       []CardElement `json:"items,omitempty"`
	Actions     []CardSubmit  `json:"actions,omitempty"`
}

// CardColumn is a column inside a ColumnSet element.
type CardColumn struct {
	Type                     string        `json:"type"`
	Width                    string        `json:"width,omitempty"`
	VerticalContentAlignment string        `json:"verticalContentAlignment,omitempty"`
	Items                    []CardElement `json:"items,omitempty"`
}

// CardFact is a row of a FactSet element.
type CardFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// CardChoice is an option of an Input.ChoiceSet element.
type CardChoice struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// CardSubmit is a card action. Submit actions carry Data back to the
// bot; OpenUrl actions navigate the client.
type CardSubmit struct {
	Type  string                 `json:"type"`
	Title string                 `json:"title"`
	URL   string                 `json:"url,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// cardAttachment wraps a card for sending as a message attachment.
func cardAttachment(card *Card) Attachment {
	return Attachment{ContentType: adaptiveCardContentType, Content: card}
}

// msteamsSignin makes a card button open the sign-in popup.
func msteamsSignin(authStartURL string) map[string]interface{} {
	return map[string]interface{}{
		"msteams": map[string]interface{}{"type": "signin", "value": authStartURL},
	}
}

// msteamsImBack makes a card button send a message back as the user.
func msteamsImBack(value string) map[string]interface{} {
	return map[string]interface{}{
		"msteams": map[string]interface{}{"type": "imBack", "value": value},
	}
}

// msteamsTaskFetch makes a card button open a task module dialog.
func msteamsTaskFetch(fetchID string) map[string]interface{} {
	return map[string]interface{}{
		"fetchId": fetchID,
		"msteams": map[string]interface{}{"type": "task/fetch"},
	}
}

// Cards builds the adaptive cards the bot sends. The auth start URL is
// baked in because most entry cards carry a sign-in button.
type Cards struct {
	authStartURL string
}

// NewCards creates a card builder with the given sign-in page URL.
func NewCards(authStartURL string) *Cards {
	return &Cards{authStartURL: authStartURL}
}

func (c *Cards) card(version string, body []CardElement, actions ...CardSubmit) *Card {
	return &Card{
		Type:    "AdaptiveCard",
		Schema:  adaptiveCardSchema,
		Version: version,
		Body:    body,
		Actions: actions,
	}
}

func (c *Cards) textCard(text string, actions ...CardSubmit) *Card {
	return c.card("1.2", []CardElement{{Type: "TextBlock", Text: text, Wrap: true}}, actions...)
}

// Welcome greets a user or team the bot was just added to.
func (c *Cards) Welcome() *Card {
	return c.textCard(
		"Hi there\U0001F44B  I'm Quire Bot and I'm here at your service!\n\n"+
			"I am here to make your work much easier and faster! You can get real-time updates from your projects in Quire and manage your task list right from here at Teams!\n\n"+
			"**Here are a couple things that I can do:**\n\n"+
			"- Add new tasks to Quire projects.\n"+
			"- Assign tasks to team members, set dates and more.\n\n"+
			"To get you started, let's log in your Quire workspace.",
		CardSubmit{Type: "Action.Submit", Title: "Log in to Quire", Data: msteamsSignin(c.authStartURL)},
		CardSubmit{Type: "Action.OpenUrl", Title: "Sign up", URL: "https://quire.io/signup?continue=https://quire.io/r/integra/microsoft-teams/signup/confirm"},
	)
}

// LoginSuccess confirms a completed sign-in and nudges toward linking.
func (c *Cards) LoginSuccess() *Card {
	return c.card("1.3",
		[]CardElement{{
			Type: "TextBlock",
			Text: "Great, you're logged in \U0001F389\n\nFirst things first, you need to decide which project you would you like to link your Microsoft Teams.",
			Wrap: true,
		}},
		CardSubmit{Type: "Action.Submit", Title: "Link a project", Data: msteamsTaskFetch(fetchLinkProject)},
		CardSubmit{Type: "Action.Submit", Title: "Take a tour", Data: msteamsImBack("Take a tour")},
	)
}

// NeedToLogin asks the user to sign in before the named action.
func (c *Cards) NeedToLogin(action string) *Card {
	return c.textCard(
		fmt.Sprintf("You need to log into your Quire account before %s.", action),
		CardSubmit{Type: "Action.Submit", Title: "Log in to Quire", Data: msteamsSignin(c.authStartURL)},
	)
}

// LoginButton prompts an explicit sign-in.
func (c *Cards) LoginButton() *Card {
	return c.textCard(
		"Click the button to log in to your Quire account.",
		CardSubmit{Type: "Action.Submit", Title: "Log in to Quire", Data: msteamsSignin(c.authStartURL)},
	)
}

// LogoutMessage confirms a sign-out.
func (c *Cards) LogoutMessage() *Card {
	return c.textCard(
		"We've logged you out.\n\nYou can always login again later. Bye for now! \U0001F44B",
		CardSubmit{Type: "Action.Submit", Title: "Log in to Quire", Data: msteamsSignin(c.authStartURL)},
	)
}

// Signout asks for logout confirmation in group conversations.
func (c *Cards) Signout() *Card {
	return c.textCard(
		"Press to confirm logout",
		CardSubmit{Type: "Action.Submit", Title: "Logout", Data: msteamsImBack("Logout")},
	)
}

// AddTaskButton opens the add-task dialog.
func (c *Cards) AddTaskButton() *Card {
	return c.textCard(
		"Click the below button to add a new Quire task.",
		CardSubmit{Type: "Action.Submit", Title: "Add task", Data: msteamsTaskFetch(fetchAddTask)},
	)
}

// LinkProjectButton opens the link-project dialog.
func (c *Cards) LinkProjectButton() *Card {
	return c.textCard(
		"Click the below button to link a Quire project to this channel.",
		CardSubmit{Type: "Action.Submit", Title: "Link project", Data: msteamsTaskFetch(fetchLinkProject)},
	)
}

// NeedToLinkProject is shown when a task operation has no linked
// project to target.
func (c *Cards) NeedToLinkProject() *Card {
	return c.textCard(
		"Sorry, you need to link a project in Quire before adding a new task.",
		CardSubmit{Type: "Action.Submit", Title: "Link project", Data: msteamsTaskFetch(fetchLinkProject)},
	)
}

// FollowProjectButton opens the follow-project dialog.
func (c *Cards) FollowProjectButton() *Card {
	return c.textCard(
		"Click the below button to follow a Quire project.",
		CardSubmit{Type: "Action.Submit", Title: "Follow project", Data: msteamsTaskFetch(fetchFollowProject)},
	)
}

// UnfollowProjectButton opens the unfollow-project dialog.
func (c *Cards) UnfollowProjectButton() *Card {
	return c.textCard(
		"Click the below button to unfollow a Quire project.",
		CardSubmit{Type: "Action.Submit", Title: "Unfollow project", Data: msteamsTaskFetch(fetchUnfollowProject)},
	)
}

// UnfollowProject selects which followed project to drop.
func (c *Cards) UnfollowProject(followed []models.LinkedProject) *Card {
	choices := make([]CardChoice, 0, len(followed))
	for _, p := range followed {
		choices = append(choices, CardChoice{Title: p.NameText, Value: choiceValue(p.OID, p.NameText)})
	}
	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Text: "Please select a project to unfollow", Wrap: true},
			{Type: "Input.ChoiceSet", ID: "unfollowProject_input", Placeholder: "Select a project", Choices: choices},
		},
		CardSubmit{Type: "Action.Submit", Title: "Unfollow project", Data: map[string]interface{}{"actionId": actionUnfollowProject}},
	)
}

// AddTask is the task creation form for a project.
func (c *Cards) AddTask(project models.LinkedProject, users []models.User) *Card {
	projectData := map[string]interface{}{"oid": project.OID, "nameText": project.NameText}
	return c.card("1.2",
		[]CardElement{
			{
				Type: "ColumnSet",
				Columns: []CardColumn{
					{
						Type:                     "Column",
						Width:                    "auto",
						VerticalContentAlignment: "Center",
						Items: []CardElement{
							{Type: "FactSet", Facts: []CardFact{{Title: "Project", Value: project.NameText}}},
						},
					},
					{
						Type:  "Column",
						Width: "stretch",
						Items: []CardElement{
							{Type: "ActionSet", Actions: []CardSubmit{
								{Type: "Action.Submit", Title: "Change project", Data: map[string]interface{}{
									"actionId": actionChangeProject,
									"project":  projectData,
								}},
							}},
						},
					},
				},
			},
			{Type: "TextBlock", Text: "Task name", Wrap: true},
			{Type: "Input.Text", ID: "taskName_input", Placeholder: "Task name"},
			{
				Type: "ColumnSet",
				Columns: []CardColumn{
					{Type: "Column", Items: []CardElement{
						{Type: "TextBlock", Text: "Assignee", Wrap: true},
						{Type: "Input.ChoiceSet", ID: "assignee", Placeholder: "Select assignee", Choices: userChoices(users)},
					}},
					{Type: "Column", Items: []CardElement{
						{Type: "TextBlock", Text: "Due date", Wrap: true},
						{Type: "Input.Date", ID: "dueDate_input"},
					}},
				},
			},
			{Type: "TextBlock", Text: "Description", Wrap: true},
			{Type: "Input.Text", ID: "description_input", Placeholder: "Task description", IsMultiline: true},
		},
		CardSubmit{Type: "Action.Submit", Title: "Add task", Data: map[string]interface{}{
			"actionId": actionAddTask,
			"project":  projectData,
		}},
	)
}

// ChangeProject selects a different target project for the add-task
// form.
func (c *Cards) ChangeProject(origin models.LinkedProject, projects []models.Project) *Card {
	originValue, _ := json.Marshal(origin)
	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Text: "Select a project to add task", Wrap: true},
			{Type: "Input.ChoiceSet", ID: "changeProject_input", Value: string(originValue), Choices: projectChoices(projects)},
		},
		CardSubmit{Type: "Action.Submit", Title: "OK", Data: map[string]interface{}{
			"actionId":      actionSetProject,
			"originProject": map[string]interface{}{"oid": origin.OID, "nameText": origin.NameText},
		}},
	)
}

// LinkProject selects the project to link to the conversation.
func (c *Cards) LinkProject(origin models.LinkedProject, projects []models.Project) *Card {
	originValue, _ := json.Marshal(origin)
	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Text: "Please select a Quire project to link to this channel.", Wrap: true},
			{Type: "Input.ChoiceSet", ID: "linkProject_input", Value: string(originValue), Choices: projectChoices(projects)},
		},
		CardSubmit{Type: "Action.Submit", Title: "Link project", Data: map[string]interface{}{"actionId": actionLinkProject}},
	)
}

// FollowProject selects the project this conversation should follow.
func (c *Cards) FollowProject(projects []models.Project) *Card {
	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Text: "Please select a project to follow.", Wrap: true},
			{Type: "Input.ChoiceSet", ID: "followProject_input", Placeholder: "Select a project", Choices: projectChoices(projects)},
		},
		CardSubmit{Type: "Action.Submit", Title: "Follow project", Data: map[string]interface{}{"actionId": actionFollowProject}},
	)
}

// Task renders a task with its key facts.
func (c *Cards) Task(task models.Task, projectName string) *Card {
	return c.taskCard(task, projectName, false)
}

// TaskWithFollow is Task plus a follow button, used in search results.
func (c *Cards) TaskWithFollow(task models.Task, projectName string) *Card {
	return c.taskCard(task, projectName, true)
}

func (c *Cards) taskCard(task models.Task, projectName string, follow bool) *Card {
	description := task.DescriptionText
	if len(description) > taskDescriptionLimit {
		description = description[:taskDescriptionLimit] + "..."
	}
	name := task.NameText
	if name == "" {
		name = "(empty)"
	}

	assignee := "None"
	if len(task.Assignees) > 0 && task.Assignees[0].Name != "" {
		assignee = task.Assignees[0].Name
	}
	due := task.Due
	if due == "" {
		due = "Not set"
	}

	actions := []CardSubmit{
		{Type: "Action.OpenUrl", Title: "View in Quire", URL: task.URL},
		{Type: "Action.Submit", Title: "Add comment", Data: map[string]interface{}{
			"fetchId":  fetchAddComment,
			"taskOid":  task.OID,
			"taskName": name,
			"msteams":  map[string]interface{}{"type": "task/fetch"},
		}},
	}
	if follow {
		actions = append(actions, CardSubmit{Type: "Action.Submit", Title: "Follow task", Data: map[string]interface{}{
			"actionId": actionFollowTask,
			"taskOid":  task.OID,
			"taskName": name,
		}})
	}

	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Size: "large", Text: name, Wrap: true},
			{Type: "FactSet", Facts: []CardFact{
				{Title: "Assigned to", Value: assignee},
				{Title: "Due date", Value: due},
				{Title: "Project", Value: projectName},
			}},
			{Type: "TextBlock", Text: description, Wrap: true},
		},
		actions...,
	)
}

// WithHeader prepends an emphasized header line, used on notification
// cards to carry the event text.
func (c *Cards) WithHeader(card *Card, header string) *Card {
	body := make([]CardElement, 0, len(card.Body)+1)
	body = append(body, CardElement{
		Type:  "Container",
		Bleed: true,
		Style: "emphasis",
		Items: []CardElement{{Type: "TextBlock", Text: header, Wrap: true}},
	})
	card.Body = append(body, card.Body...)
	return card
}

// AddComment is the comment form for a task.
func (c *Cards) AddComment(taskName, taskOID string) *Card {
	return c.card("1.2",
		[]CardElement{
			{Type: "TextBlock", Text: fmt.Sprintf("Add a comment to %s", taskName), Wrap: true},
			{Type: "Input.Text", ID: "comment_input", Placeholder: "Write some comment here...", IsMultiline: true},
		},
		CardSubmit{Type: "Action.Submit", Title: "Add comment", Data: map[string]interface{}{
			"actionId": actionAddComment,
			"taskOid":  taskOID,
			"taskName": taskName,
		}},
	)
}

// TaskComplete confirms a completed task.
func (c *Cards) TaskComplete(task models.Task) *Card {
	return c.textCard(
		fmt.Sprintf("%s has been completed.", task.NameText),
		CardSubmit{Type: "Action.OpenUrl", Title: "View in Quire", URL: task.URL},
	)
}

// SimpleMessage is a plain one-line card used inside dialogs.
func (c *Cards) SimpleMessage(message string) *Card {
	return c.card("1.2", []CardElement{{Type: "TextBlock", Text: message, Wrap: true}})
}

// Help lists the available commands.
func (c *Cards) Help() *Card {
	return c.card("1.3",
		[]CardElement{
			{Type: "TextBlock", Text: "Here are the commands you can use with this app:", Wrap: true},
			{Type: "FactSet", Facts: []CardFact{
				{Title: "Add task", Value: "Add a new task in Quire"},
				{Title: "Link project", Value: "Link a project to this channel"},
				{Title: "Follow project", Value: "Follow a project"},
				{Title: "Unfollow project", Value: "Get this channel to unfollow a project"},
				{Title: "Unlink project", Value: "Unlink a project from this channel"},
				{Title: "Login", Value: "Log into Quire"},
				{Title: "Logout", Value: "Log out of Quire"},
				{Title: "Help", Value: "View a list of possible commands"},
			}},
		},
		CardSubmit{Type: "Action.OpenUrl", Title: "Learn more", URL: "https://quire.io/guide/microsoft-teams/"},
	)
}

// UnknownCommand is sent for unrecognized message text.
func (c *Cards) UnknownCommand() *Card {
	return c.textCard(
		"Sorry, I am not quite sure what you mean, but I'm here to help! Please use the below help button to see what I can do for you.",
		CardSubmit{Type: "Action.Submit", Title: "Help", Data: msteamsImBack("Help")},
	)
}

// UnknownError is the turn-level fallback for unexpected failures.
func (c *Cards) UnknownError() *Card {
	return c.textCard(
		"Sorry, we encountered an unexpected error. We will look into it, but feel free to contact us.",
		CardSubmit{Type: "Action.OpenUrl", Title: "Contact us", URL: "https://quire.io/feedback"},
	)
}

// Tour is the carousel introducing the bot.
func (c *Cards) Tour() []*Card {
	learnMore := CardSubmit{Type: "Action.OpenUrl", Title: "Learn more", URL: "https://quire.io/guide/microsoft-teams/"}
	return []*Card{
		c.tourCard("Welcome to Quire bot",
			"You can interact with Quire bot from your team channel. Quire bot can help you add a task, assign and add comment for a task via a series of actionable messages.",
			"https://d12y7sg0iam4lc.cloudfront.net/s/img/app/msteams/tour_1.png",
			learnMore),
		c.tourCard("Link a project in Quire",
			"Link a specific project in Quire that you would want Microsoft Teams to access.",
			"https://d12y7sg0iam4lc.cloudfront.net/s/img/app/msteams/tour_2.png",
			CardSubmit{Type: "Action.Submit", Title: "Link project", Data: msteamsTaskFetch(fetchLinkProject)},
			learnMore),
		c.tourCard("Add a new task to Quire",
			"Once you have successfully linked a project, you can add your first task by sending a message \"Add task\" and Quire will help you create your task automatically!",
			"https://d12y7sg0iam4lc.cloudfront.net/s/img/app/msteams/tour_3.png",
			CardSubmit{Type: "Action.Submit", Title: "Add task", Data: msteamsTaskFetch(fetchAddTask)},
			learnMore),
		c.tourCard("Get help from Quire bot",
			"At any time you want to look for help from Quire bot, just type \"help\" in the message composer. The list of available commands that you can use with Quire and Microsoft Teams integration will be presented for you.",
			"https://d12y7sg0iam4lc.cloudfront.net/s/img/app/msteams/tour_4.png",
			CardSubmit{Type: "Action.Submit", Title: "Help", Data: msteamsImBack("Help")},
			learnMore),
	}
}

func (c *Cards) tourCard(title, desc, image string, actions ...CardSubmit) *Card {
	return c.card("1.3",
		[]CardElement{
			{Type: "TextBlock", Size: "large", Weight: "bolder", Text: title},
			{Type: "Image", URL: image},
			{Type: "TextBlock", Text: desc, Wrap: true},
		},
		actions...,
	)
}

// choiceValue is the JSON payload a choice submits back.
func choiceValue(oid, nameText string) string {
	value, _ := json.Marshal(models.LinkedProject{OID: oid, NameText: nameText})
	return string(value)
}

// userChoices sorts users by display name.
func userChoices(users []models.User) []CardChoice {
	choices := make([]CardChoice, 0, len(users))
	for _, u := range users {
		choices = append(choices, CardChoice{Title: u.NameText, Value: choiceValue(u.OID, u.NameText)})
	}
	sort.Slice(choices, func(i, j int) bool { return choices[i].Title < choices[j].Title })
	return choices
}

// projectChoices sorts projects by name with the user's own inbox
// project renamed to "My tasks" and pinned first. The inbox is the
// project whose oid, minus its type prefix, equals its creator's oid.
func projectChoices(projects []models.Project) []CardChoice {
	type entry struct {
		oid   string
		name  string
		inbox bool
	}
	entries := make([]entry, 0, len(projects))
	for _, p := range projects {
		e := entry{oid: p.OID, name: p.NameText}
		if p.CreatedBy != nil && len(p.OID) > 1 && p.OID[1:] == p.CreatedBy.OID {
			e.name = "My tasks"
			e.inbox = true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].inbox != entries[j].inbox {
			return entries[i].inbox
		}
		return entries[i].name < entries[j].name
	})

	choices := make([]CardChoice, 0, len(entries))
	for _, e := range entries {
		choices = append(choices, CardChoice{Title: e.name, Value: choiceValue(e.oid, e.name)})
	}
	return choices
}
