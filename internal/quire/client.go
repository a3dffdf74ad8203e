// Package quire provides the HTTP client for the Quire REST API.
package quire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
)

// taskStatusComplete is the Quire status value for a completed task.
const taskStatusComplete = 100

// DefaultListTimeout bounds the root-task listing call, which backs an
// interactive search surface and must answer before the client gives up.
const DefaultListTimeout = 4500 * time.Millisecond

// Config configures a Client.
type Config struct {
	// APIURL is the base URL of the Quire REST API, e.g. "https://quire.io/api".
	APIURL string
	// Timeout is the overall HTTP client timeout.
	Timeout time.Duration
	// ListTimeout bounds RootTasks. Defaults to DefaultListTimeout.
	ListTimeout time.Duration
}

// Client calls the Quire REST API with a caller-supplied bearer token.
// It performs no token management itself; failures are classified into
// APIError kinds at this boundary and surfaced to the request executor.
type Client struct {
	apiURL      string
	httpClient  *http.Client
	listTimeout time.Duration
}

// NewClient creates a new Quire API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	listTimeout := cfg.ListTimeout
	if listTimeout == 0 {
		listTimeout = DefaultListTimeout
	}
	return &Client{
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		listTimeout: listTimeout,
	}
}

// FollowerHandle builds the follower registration handle for a Teams
// conversation: app|/<conversationID>|<serviceURL>.
func FollowerHandle(conversationID, serviceURL string) string {
	return fmt.Sprintf("app|/%s|%s", conversationID, serviceURL)
}

// Users returns all users visible to the token's owner.
func (c *Client) Users(ctx context.Context, token models.Token) ([]models.User, error) {
	var users []models.User
	if err := c.get(ctx, token, "/user/list", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CurrentUser returns the token's owner.
func (c *Client) CurrentUser(ctx context.Context, token models.Token) (models.User, error) {
	users, err := c.Users(ctx, token)
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, &APIError{Kind: KindNotFound}
	}
	return users[0], nil
}

// ProjectUsers returns the members of a project. The pseudo-oid "-"
// addresses the personal "My tasks" project, whose only member is the
// current user.
func (c *Client) ProjectUsers(ctx context.Context, token models.Token, oid string) ([]models.User, error) {
	if oid == "-" {
		user, err := c.CurrentUser(ctx, token)
		if err != nil {
			return nil, err
		}
		return []models.User{user}, nil
	}

	var users []models.User
	if err := c.get(ctx, token, "/user/list/project/"+url.PathEscape(oid), &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Projects returns all projects visible to the token's owner.
func (c *Client) Projects(ctx context.Context, token models.Token) ([]models.Project, error) {
	var projects []models.Project
	if err := c.get(ctx, token, "/project/list", &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Project returns a single project.
func (c *Client) Project(ctx context.Context, token models.Token, oid string) (models.Project, error) {
	var project models.Project
	if err := c.get(ctx, token, "/project/"+url.PathEscape(oid), &project); err != nil {
		return models.Project{}, err
	}
	return project, nil
}

// AddTask creates a task in a project.
func (c *Client) AddTask(ctx context.Context, token models.Token, projectOID string, task models.NewTask) (models.Task, error) {
	var created models.Task
	if err := c.do(ctx, token, http.MethodPost, "/task/"+url.PathEscape(projectOID), task, &created); err != nil {
		return models.Task{}, err
	}
	return created, nil
}

// AddComment adds a comment to a task.
func (c *Client) AddComment(ctx context.Context, token models.Token, taskOID, text string) error {
	body := map[string]string{"description": text}
	return c.do(ctx, token, http.MethodPost, "/comment/"+url.PathEscape(taskOID), body, nil)
}

// CompleteTask marks a task as completed.
func (c *Client) CompleteTask(ctx context.Context, token models.Token, taskOID string) (models.Task, error) {
	body := map[string]int{"status": taskStatusComplete}
	var task models.Task
	if err := c.do(ctx, token, http.MethodPut, "/task/"+url.PathEscape(taskOID), body, &task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// Task returns a single task.
func (c *Client) Task(ctx context.Context, token models.Token, oid string) (models.Task, error) {
	var task models.Task
	if err := c.get(ctx, token, "/task/"+url.PathEscape(oid), &task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// RootTasks returns the root tasks of a project. The call is bounded by
// the list timeout; a deadline hit is reported as KindTimeout so the
// caller can render a distinct "search timed out" message.
func (c *Client) RootTasks(ctx context.Context, token models.Token, projectOID string) ([]models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var tasks []models.Task
	err := c.get(ctx, token, "/task/list/"+url.PathEscape(projectOID), &tasks)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return nil, &APIError{Kind: KindTimeout, Err: err}
		}
		return nil, err
	}
	return tasks, nil
}

// SearchTasks searches tasks in a project by free text.
func (c *Client) SearchTasks(ctx context.Context, token models.Token, projectOID, text string) ([]models.Task, error) {
	path := "/task/search/" + url.PathEscape(projectOID) + "?text=" + url.QueryEscape(text)
	var tasks []models.Task
	if err := c.get(ctx, token, path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// AddProjectFollower registers a Teams conversation as a follower of a
// project, so Quire pushes its notifications to the conversation.
func (c *Client) AddProjectFollower(ctx context.Context, token models.Token, projectOID, conversationID, serviceURL string) error {
	body := map[string][]string{"addFollowers": {FollowerHandle(conversationID, serviceURL)}}
	return c.do(ctx, token, http.MethodPut, "/project/"+url.PathEscape(projectOID), body, nil)
}

// RemoveProjectFollower unregisters a conversation from a project.
func (c *Client) RemoveProjectFollower(ctx context.Context, token models.Token, projectOID, conversationID, serviceURL string) error {
	body := map[string][]string{"removeFollowers": {FollowerHandle(conversationID, serviceURL)}}
	return c.do(ctx, token, http.MethodPut, "/project/"+url.PathEscape(projectOID), body, nil)
}

// AddTaskFollower registers a Teams conversation as a follower of a task.
func (c *Client) AddTaskFollower(ctx context.Context, token models.Token, taskOID, conversationID, serviceURL string) error {
	body := map[string][]string{"addFollowers": {FollowerHandle(conversationID, serviceURL)}}
	return c.do(ctx, token, http.MethodPut, "/task/"+url.PathEscape(taskOID), body, nil)
}

// get performs a bearer-authenticated GET and decodes the response.
func (c *Client) get(ctx context.Context, token models.Token, path string, out interface{}) error {
	return c.do(ctx, token, http.MethodGet, path, nil, out)
}

// do performs a bearer-authenticated request and classifies failures.
func (c *Client) do(ctx context.Context, token models.Token, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return classifyStatus(resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Kind: KindUnavailable, Err: err}
	}
	return nil
}

// classifyStatus maps a non-2xx status to the closed error taxonomy.
func classifyStatus(status int) *APIError {
	switch status {
	case http.StatusUnauthorized:
		return &APIError{Kind: KindUnauthorized, StatusCode: status}
	case http.StatusForbidden:
		return &APIError{Kind: KindForbidden, StatusCode: status}
	case http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: status}
	default:
		return &APIError{Kind: KindUnavailable, StatusCode: status}
	}
}
