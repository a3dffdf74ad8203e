package quire

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
)

var testToken = models.Token{AccessToken: "test-access", RefreshToken: "test-refresh"}

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: srv.URL, ListTimeout: 200 * time.Millisecond})
	return client, srv
}

func TestClient_BearerHeader(t *testing.T) {
	var gotAuth string
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]models.User{{OID: "u-1", Name: "Nadia"}})
	}))
	defer srv.Close()

	users, err := client.Users(context.Background(), testToken)
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if gotAuth != "Bearer test-access" {
		t.Errorf("Authorization = %q, want bearer with access token", gotAuth)
	}
	if len(users) != 1 || users[0].OID != "u-1" {
		t.Errorf("Users = %+v", users)
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindUnavailable},
		{http.StatusServiceUnavailable, KindUnavailable},
		{http.StatusInternalServerError, KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := client.Project(context.Background(), testToken, "p-1")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want APIError", err)
			}
			if apiErr.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", apiErr.Kind, tt.kind)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
		})
	}
}

func TestClient_TransportErrorIsUnavailable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := client.Projects(context.Background(), testToken)
	if !IsKind(err, KindUnavailable) {
		t.Errorf("error = %v, want KindUnavailable", err)
	}
}

func TestClient_RootTasksTimeout(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	_, err := client.RootTasks(context.Background(), testToken, "p-1")
	if !IsKind(err, KindTimeout) {
		t.Errorf("error = %v, want KindTimeout", err)
	}
}

func TestClient_RootTasks(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/list/p-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.Task{{OID: "t-1", Name: "Write docs"}})
	}))
	defer srv.Close()

	tasks, err := client.RootTasks(context.Background(), testToken, "p-1")
	if err != nil {
		t.Fatalf("RootTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].OID != "t-1" {
		t.Errorf("RootTasks = %+v", tasks)
	}
}

func TestClient_CompleteTaskPutsStatus100(t *testing.T) {
	var gotMethod string
	var gotBody map[string]int
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(models.Task{OID: "t-1", Status: 100})
	}))
	defer srv.Close()

	task, err := client.CompleteTask(context.Background(), testToken, "t-1")
	if err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotBody["status"] != 100 {
		t.Errorf("body = %v, want status 100", gotBody)
	}
	if task.Status != 100 {
		t.Errorf("task status = %d", task.Status)
	}
}

func TestClient_AddTask(t *testing.T) {
	var gotTask models.NewTask
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/p-1" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotTask)
		json.NewEncoder(w).Encode(models.Task{OID: "t-9", Name: gotTask.Name})
	}))
	defer srv.Close()

	created, err := client.AddTask(context.Background(), testToken, "p-1", models.NewTask{
		Name:      "Ship release",
		Due:       "2024-07-01",
		Assignees: []string{"u-1"},
	})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if gotTask.Name != "Ship release" || len(gotTask.Assignees) != 1 {
		t.Errorf("posted task = %+v", gotTask)
	}
	if created.OID != "t-9" {
		t.Errorf("created = %+v", created)
	}
}

func TestClient_FollowerHandle(t *testing.T) {
	handle := FollowerHandle("19:abc@thread.tacv2", "https://smba.trafficmanager.net/emea/")
	want := "app|/19:abc@thread.tacv2|https://smba.trafficmanager.net/emea/"
	if handle != want {
		t.Errorf("FollowerHandle = %q, want %q", handle, want)
	}
}

func TestClient_AddProjectFollower(t *testing.T) {
	var gotBody map[string][]string
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/project/p-1" || r.Method != http.MethodPut {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	err := client.AddProjectFollower(context.Background(), testToken, "p-1", "conv-1", "https://smba.example.com")
	if err != nil {
		t.Fatalf("AddProjectFollower failed: %v", err)
	}
	followers := gotBody["addFollowers"]
	if len(followers) != 1 || followers[0] != "app|/conv-1|https://smba.example.com" {
		t.Errorf("addFollowers = %v", followers)
	}
}

func TestClient_ProjectUsersMyTasks(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/list" {
			t.Errorf("path = %q, want /user/list for the personal project", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.User{{OID: "me"}, {OID: "someone-else"}})
	}))
	defer srv.Close()

	users, err := client.ProjectUsers(context.Background(), testToken, "-")
	if err != nil {
		t.Fatalf("ProjectUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].OID != "me" {
		t.Errorf("users = %+v, want only the current user", users)
	}
}

func TestClient_SearchTasksQuery(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/task/search/p-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("text"); got != "bug fix" {
			t.Errorf("text = %q", got)
		}
		json.NewEncoder(w).Encode([]models.Task{})
	}))
	defer srv.Close()

	if _, err := client.SearchTasks(context.Background(), testToken, "p-1", "bug fix"); err != nil {
		t.Fatalf("SearchTasks failed: %v", err)
	}
}
