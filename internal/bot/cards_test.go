package bot

import (
	"strings"
	"testing"

	"github.com/quire-api/microsoft-teams/internal/models"
)

func TestProjectChoicesPinsInboxFirst(t *testing.T) {
	projects := []models.Project{
		{OID: "Pzebra", NameText: "Zebra", CreatedBy: &models.User{OID: "other"}},
		{OID: "Palpha", NameText: "Alpha", CreatedBy: &models.User{OID: "other"}},
		{OID: "Iu1", NameText: "Inbox", CreatedBy: &models.User{OID: "u1"}},
	}

	choices := projectChoices(projects)
	if len(choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(choices))
	}
	if choices[0].Title != "My tasks" {
		t.Fatalf("inbox not pinned first: %+v", choices)
	}
	if choices[1].Title != "Alpha" || choices[2].Title != "Zebra" {
		t.Fatalf("remaining choices not sorted by name: %+v", choices)
	}
	if !strings.Contains(choices[0].Value, `"oid":"Iu1"`) {
		t.Fatalf("inbox value lost its oid: %s", choices[0].Value)
	}
}

func TestUserChoicesSorted(t *testing.T) {
	users := []models.User{
		{OID: "u2", NameText: "Zoe"},
		{OID: "u1", NameText: "Amy"},
	}
	choices := userChoices(users)
	if choices[0].Title != "Amy" || choices[1].Title != "Zoe" {
		t.Fatalf("choices not sorted: %+v", choices)
	}
}

func TestTaskCardTruncatesDescription(t *testing.T) {
	cards := NewCards("https://bot.example.com/bot-auth-start")
	task := models.Task{
		OID:             "T1",
		NameText:        "Long task",
		DescriptionText: strings.Repeat("x", taskDescriptionLimit+100),
	}

	card := cards.Task(task, "Website")
	var description string
	for _, el := range card.Body {
		if el.Type == "TextBlock" && strings.HasPrefix(el.Text, "x") {
			description = el.Text
		}
	}
	if len(description) != taskDescriptionLimit+3 {
		t.Fatalf("description length %d", len(description))
	}
	if !strings.HasSuffix(description, "...") {
		t.Fatal("truncated description missing ellipsis")
	}
}

func TestTaskCardEmptyName(t *testing.T) {
	cards := NewCards("")
	card := cards.Task(models.Task{OID: "T1"}, "Website")
	if card.Body[0].Text != "(empty)" {
		t.Fatalf("empty name rendered as %q", card.Body[0].Text)
	}
}

func TestTaskWithFollowAddsButton(t *testing.T) {
	cards := NewCards("")
	plain := cards.Task(models.Task{OID: "T1", NameText: "A"}, "P")
	followed := cards.TaskWithFollow(models.Task{OID: "T1", NameText: "A"}, "P")
	if len(followed.Actions) != len(plain.Actions)+1 {
		t.Fatalf("follow button not added: %d vs %d actions", len(followed.Actions), len(plain.Actions))
	}
	last := followed.Actions[len(followed.Actions)-1]
	if last.Title != "Follow task" {
		t.Fatalf("unexpected action %+v", last)
	}
}

func TestWithHeaderPrepends(t *testing.T) {
	cards := NewCards("")
	card := cards.Task(models.Task{OID: "T1", NameText: "A"}, "P")
	bodyLen := len(card.Body)

	card = cards.WithHeader(card, "Pat added task A")
	if len(card.Body) != bodyLen+1 {
		t.Fatalf("header not prepended")
	}
	header := card.Body[0]
	if header.Type != "Container" || header.Style != "emphasis" {
		t.Fatalf("unexpected header element %+v", header)
	}
	if header.Items[0].Text != "Pat added task A" {
		t.Fatalf("header text %q", header.Items[0].Text)
	}
}

func TestNeedToLoginCarriesAuthStartURL(t *testing.T) {
	cards := NewCards("https://bot.example.com/bot-auth-start")
	card := cards.NeedToLogin("adding a new task")
	if len(card.Actions) != 1 {
		t.Fatalf("expected one action, got %d", len(card.Actions))
	}
	msteams, ok := card.Actions[0].Data["msteams"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing msteams payload: %+v", card.Actions[0].Data)
	}
	if msteams["type"] != "signin" || msteams["value"] != "https://bot.example.com/bot-auth-start" {
		t.Fatalf("unexpected signin payload: %+v", msteams)
	}
}
