// Package models defines the core data structures for the Quire Teams bot.
package models

// User is a Quire user as returned by the user resources.
type User struct {
	OID      string `json:"oid"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	NameText string `json:"nameText,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Project is a Quire project.
type Project struct {
	OID       string `json:"oid"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	NameText  string `json:"nameText,omitempty"`
	CreatedBy *User  `json:"createdBy,omitempty"`
}

// Task is a Quire task.
type Task struct {
	OID             string `json:"oid"`
	ID              int    `json:"id,omitempty"`
	Name            string `json:"name,omitempty"`
	NameText        string `json:"nameText,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionText string `json:"descriptionText,omitempty"`
	Status          int    `json:"status,omitempty"`
	Due             string `json:"due,omitempty"`
	URL             string `json:"url,omitempty"`
	Assignees       []User `json:"assignees,omitempty"`
}

// NewTask is the payload for creating a task in a project.
type NewTask struct {
	Name        string   `json:"name"`
	Due         string   `json:"due,omitempty"`
	Description string   `json:"description,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
}

// LinkedProject is the Quire project associated with a Teams
// conversation, used as the default target for task operations issued
// from that conversation. Only the fields needed to address the project
// are kept.
type LinkedProject struct {
	OID      string `json:"oid"`
	NameText string `json:"nameText"`
}
