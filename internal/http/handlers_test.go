package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nixlone/trackly/internal/auth"
	"github.com/nixlone/trackly/internal/models"
	"github.com/nixlone/trackly/internal/repo"
	"github.com/nixlone/trackly/internal/service"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	store := repo.NewMemory()
	manager := auth.NewManager("test-secret")
	svc := service.New(store, manager)
	api := &API{Store: store, Service: svc, Auth: manager}
	return api, api.Router()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
}

func registerUser(t *testing.T, handler http.Handler, username, password string) (models.User, string) {
	t.Helper()
	rr := doJSON(t, handler, "POST", "/api/auth/register", "", map[string]string{
		"username": username, "password": password,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", username, rr.Code, rr.Body.String())
	}
	var resp struct {
		User  models.User `json:"user"`
		Token string      `json:"token"`
	}
	decodeBody(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("register returned empty token")
	}
	return resp.User, resp.Token
}

func createHabit(t *testing.T, handler http.Handler, token, name string) models.Habit {
	t.Helper()
	rr := doJSON(t, handler, "POST", "/api/habits", token, map[string]any{"name": name})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create habit %s: status %d body %s", name, rr.Code, rr.Body.String())
	}
	var habit models.Habit
	decodeBody(t, rr, &habit)
	return habit
}

func habitPath(id int64, rest string) string {
	return fmt.Sprintf("/api/habits/%d%s", id, rest)
}

func TestAuthEndpoints(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, "POST", "/api/auth/register", "", map[string]string{"username": "alice"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing password: status %d", rr.Code)
	}

	_, _ = registerUser(t, handler, "alice", "pw123456")

	rr = doJSON(t, handler, "POST", "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "different",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate username: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "POST", "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "pw123456",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, "POST", "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrongpass",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "POST", "/api/auth/login", "", map[string]string{
		"username": "nobody", "password": "pw123456",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: status %d", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, handler := newTestAPI(t)

	rr := doJSON(t, handler, "GET", "/api/tasks", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "GET", "/api/tasks", "garbage-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token: status %d", rr.Code)
	}

	// A token signed by someone else must be rejected.
	other := auth.NewManager("other-secret")
	forged, err := other.GenerateToken(auth.Identity{UserID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("forge token: %v", err)
	}
	rr = doJSON(t, handler, "GET", "/api/tasks", forged, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: status %d", rr.Code)
	}
}

func TestAdminGate(t *testing.T) {
	api, handler := newTestAPI(t)

	_, userToken := registerUser(t, handler, "alice", "pw123456")

	rr := doJSON(t, handler, "GET", "/api/users", userToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin listing users: status %d", rr.Code)
	}

	// Admin sees the full list, and hashes never appear in the payload.
	hash, _ := api.Auth.HashPassword("admin-pw")
	admin, err := api.Store.CreateUser(context.Background(), "root", hash, true)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminToken, err := api.Auth.GenerateToken(auth.Identity{UserID: admin.ID, Username: admin.Username, IsAdmin: true})
	if err != nil {
		t.Fatalf("admin token: %v", err)
	}
	rr = doJSON(t, handler, "GET", "/api/users", adminToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin listing users: status %d body %s", rr.Code, rr.Body.String())
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("password")) {
		t.Fatalf("password material leaked in response: %s", rr.Body.String())
	}
	var users []models.User
	decodeBody(t, rr, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestMeEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	user, token := registerUser(t, handler, "alice", "pw123456")

	rr := doJSON(t, handler, "GET", "/api/users/me", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: status %d", rr.Code)
	}
	var got models.User
	decodeBody(t, rr, &got)
	if got.ID != user.ID || got.Username != "alice" || got.IsAdmin {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestTaskCRUD(t *testing.T) {
	_, handler := newTestAPI(t)
	_, token := registerUser(t, handler, "alice", "pw123456")

	rr := doJSON(t, handler, "POST", "/api/tasks", token, map[string]any{"title": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty title: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "POST", "/api/tasks", token, map[string]any{"title": "T", "energy_level": 9})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("energy out of range: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "POST", "/api/tasks", token, map[string]any{
		"title": "Buy milk", "due_date": "2024-02-01", "energy_level": 2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rr.Code, rr.Body.String())
	}
	var task models.Task
	decodeBody(t, rr, &task)
	if task.ID == 0 || task.IsCompleted || task.Title != "Buy milk" {
		t.Fatalf("unexpected task: %+v", task)
	}
	taskPath := fmt.Sprintf("/api/tasks/%d", task.ID)

	rr = doJSON(t, handler, "GET", "/api/tasks/abc", token, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "PUT", "/api/tasks/9999", token, map[string]any{
		"title": "Buy milk", "is_completed": true,
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("update missing task: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "PUT", taskPath, token, map[string]any{
		"title": "Buy milk", "is_completed": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &task)
	if !task.IsCompleted {
		t.Fatal("is_completed not persisted")
	}
	// Full replace: omitted fields are cleared.
	if task.EnergyLevel != nil || task.DueDate != nil {
		t.Fatalf("expected full-record replace, got %+v", task)
	}

	rr = doJSON(t, handler, "DELETE", taskPath, token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "GET", taskPath, token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rr.Code)
	}
}

func TestOwnershipIsolationOverHTTP(t *testing.T) {
	_, handler := newTestAPI(t)
	_, aliceToken := registerUser(t, handler, "alice", "pw123456")
	_, bobToken := registerUser(t, handler, "bob", "pw123456")

	habit := createHabit(t, handler, aliceToken, "Exercise")

	// Bob sees a 404 identical to a nonexistent id.
	for _, path := range []string{
		habitPath(habit.ID, ""),
		habitPath(habit.ID, "/stats"),
	} {
		rr := doJSON(t, handler, "GET", path, bobToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("GET %s as bob: status %d", path, rr.Code)
		}
	}
	rr := doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), bobToken, map[string]any{"date": "2024-01-01"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("complete as bob: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "DELETE", habitPath(habit.ID, ""), bobToken, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete as bob: status %d", rr.Code)
	}

	if rr = doJSON(t, handler, "GET", habitPath(habit.ID, ""), aliceToken, nil); rr.Code != http.StatusOK {
		t.Fatalf("alice lost her habit: status %d", rr.Code)
	}
}

func TestHabitCompletionFlow(t *testing.T) {
	_, handler := newTestAPI(t)
	_, token := registerUser(t, handler, "alice", "pw123456")

	habit := createHabit(t, handler, token, "Exercise")
	if !habit.IsActive {
		t.Fatal("new habit should default to active")
	}

	rr := doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing date: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{"date": "01/02/2024"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date format: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{
		"date": "2024-01-01", "notes": "first",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("first completion: status %d body %s", rr.Code, rr.Body.String())
	}
	var completion models.HabitCompletion
	decodeBody(t, rr, &completion)
	if completion.CompletedDate != "2024-01-01" {
		t.Fatalf("unexpected completion: %+v", completion)
	}

	// Same day again updates in place and reports 200.
	rr = doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{
		"date": "2024-01-01", "notes": "second",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("repeat completion: status %d", rr.Code)
	}
	var updated models.HabitCompletion
	decodeBody(t, rr, &updated)
	if updated.ID != completion.ID || updated.Notes == nil || *updated.Notes != "second" {
		t.Fatalf("expected same row with new notes, got %+v", updated)
	}

	rr = doJSON(t, handler, "GET", habitPath(habit.ID, ""), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("habit detail: status %d", rr.Code)
	}
	var detail habitDetail
	decodeBody(t, rr, &detail)
	if len(detail.Completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(detail.Completions))
	}

	rr = doJSON(t, handler, "DELETE", habitPath(habit.ID, "/complete/2024-01-01"), token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete completion: status %d", rr.Code)
	}
	// Idempotent by design.
	rr = doJSON(t, handler, "DELETE", habitPath(habit.ID, "/complete/2024-01-01"), token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("repeat delete completion: status %d", rr.Code)
	}
}

func TestHabitStatsEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	_, token := registerUser(t, handler, "alice", "pw123456")

	habit := createHabit(t, handler, token, "Read")
	for _, day := range []string{"2024-01-01", "2024-01-02", "2024-01-04"} {
		rr := doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{"date": day})
		if rr.Code != http.StatusCreated {
			t.Fatalf("complete %s: status %d", day, rr.Code)
		}
	}

	rr := doJSON(t, handler, "GET", habitPath(habit.ID, "/stats"), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rr.Code)
	}
	var stats service.HabitStats
	decodeBody(t, rr, &stats)
	if stats.TotalCompletions != 3 || stats.LongestStreak != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	_, handler := newTestAPI(t)
	_, token := registerUser(t, handler, "alice", "pw123456")
	_, bobToken := registerUser(t, handler, "bob", "pw123456")

	rr := doJSON(t, handler, "GET", "/api/settings", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("default settings: status %d", rr.Code)
	}
	var settings models.UserSettings
	decodeBody(t, rr, &settings)
	if settings.Theme != "light" {
		t.Fatalf("expected default theme, got %+v", settings)
	}

	rr = doJSON(t, handler, "PUT", "/api/settings", token, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing theme: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "PUT", "/api/settings", token, map[string]any{
		"theme": "dark", "default_task_energy": 3,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save settings: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, "GET", "/api/settings", token, nil)
	decodeBody(t, rr, &settings)
	if settings.Theme != "dark" || settings.DefaultTaskEnergy == nil || *settings.DefaultTaskEnergy != 3 {
		t.Fatalf("settings not persisted: %+v", settings)
	}

	// Settings are per-user.
	rr = doJSON(t, handler, "GET", "/api/settings", bobToken, nil)
	decodeBody(t, rr, &settings)
	if settings.Theme != "light" {
		t.Fatalf("bob inherited alice's settings: %+v", settings)
	}
}

// Mirrors the full register-to-teardown journey end to end.
func TestEndToEndScenario(t *testing.T) {
	_, handler := newTestAPI(t)

	_, token := registerUser(t, handler, "alice", "pw123456")

	rr := doJSON(t, handler, "POST", "/api/tasks", token, map[string]any{"title": "Buy milk"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task: status %d", rr.Code)
	}
	var task models.Task
	decodeBody(t, rr, &task)
	if task.ID == 0 || task.IsCompleted {
		t.Fatalf("unexpected task: %+v", task)
	}

	rr = doJSON(t, handler, "PUT", "/api/tasks/9999", token, map[string]any{
		"title": "Buy milk", "is_completed": true,
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("complete nonexistent task: status %d", rr.Code)
	}

	habit := createHabit(t, handler, token, "Exercise")

	rr = doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{
		"date": "2024-01-01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("first completion: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "POST", habitPath(habit.ID, "/complete"), token, map[string]any{
		"date": "2024-01-01", "notes": "again",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("second completion: status %d", rr.Code)
	}

	rr = doJSON(t, handler, "DELETE", habitPath(habit.ID, ""), token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete habit: status %d", rr.Code)
	}
	rr = doJSON(t, handler, "GET", habitPath(habit.ID, ""), token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("habit should be gone: status %d", rr.Code)
	}
}
