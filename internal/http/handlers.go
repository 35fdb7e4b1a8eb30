package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nixlone/trackly/internal/auth"
	"github.com/nixlone/trackly/internal/models"
	"github.com/nixlone/trackly/internal/repo"
	"github.com/nixlone/trackly/internal/service"
)

const maxBodyBytes = 1 << 20

type FlexTime struct {
	time.Time
}

func (ft *FlexTime) UnmarshalJSON(b []byte) error {
	// null
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// Accept YYYY-MM-DD from <input type="date">
	if t, err := time.Parse("2006-01-02", s); err == nil {
		ft.Time = t
		return nil
	}
	// Accept RFC3339 timestamps
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		ft.Time = t
		return nil
	}
	return errors.New("invalid date/time format")
}

func (ft *FlexTime) ToTimePtr() *time.Time {
	if ft == nil || ft.Time.IsZero() {
		return nil
	}
	t := ft.Time
	return &t
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type taskRequest struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	DueDate     *FlexTime `json:"due_date"`
	IsCompleted bool      `json:"is_completed"`
	EnergyLevel *int      `json:"energy_level"`
}

type habitRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	IsActive    bool    `json:"is_active"`
}

type completionRequest struct {
	Date  string  `json:"date"`
	Notes *string `json:"notes"`
}

type habitDetail struct {
	models.Habit
	Completions []models.HabitCompletion `json:"completions"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required")
		return
	}
	user, token, err := a.Service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			writeError(w, http.StatusConflict, "CONFLICT", "Username already taken")
			return
		}
		log.Printf("register failed: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Username and password are required")
		return
	}
	user, token, err := a.Service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
			return
		}
		log.Printf("login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := a.Store.GetUserByID(r.Context(), ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "User")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Store.ListUsers(r.Context())
	if err != nil {
		a.writeDomainError(w, err, "Users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	tasks, err := a.Store.ListTasks(r.Context(), ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	task, err := a.Store.GetTask(r.Context(), id, ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := a.Store.CreateTask(r.Context(), ident.UserID, req.Title, req.Description, req.DueDate.ToTimePtr(), req.EnergyLevel)
	if err != nil {
		a.writeDomainError(w, err, "Task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, err := a.Store.UpdateTask(r.Context(), id, ident.UserID, req.Title, req.Description, req.DueDate.ToTimePtr(), req.IsCompleted, req.EnergyLevel)
	if err != nil {
		a.writeDomainError(w, err, "Task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := a.Store.DeleteTask(r.Context(), id, ident.UserID); err != nil {
		a.writeDomainError(w, err, "Task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListHabits(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	habits, err := a.Store.ListHabits(r.Context(), ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Habits")
		return
	}
	writeJSON(w, http.StatusOK, habits)
}

func (a *API) handleGetHabit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	habit, err := a.Store.GetHabit(r.Context(), id, ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	completions, err := a.Store.ListCompletions(r.Context(), id, ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	writeJSON(w, http.StatusOK, habitDetail{Habit: *habit, Completions: completions})
}

func (a *API) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req habitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	habit, err := a.Store.CreateHabit(r.Context(), ident.UserID, req.Name, req.Description)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	writeJSON(w, http.StatusCreated, habit)
}

func (a *API) handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req habitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	habit, err := a.Store.UpdateHabit(r.Context(), id, ident.UserID, req.Name, req.Description, req.IsActive)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	writeJSON(w, http.StatusOK, habit)
}

func (a *API) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := a.Store.DeleteHabit(r.Context(), id, ident.UserID); err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleHabitStats(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	completions, err := a.Store.ListCompletions(r.Context(), id, ident.UserID)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	writeJSON(w, http.StatusOK, service.ComputeHabitStats(completions, time.Now().UTC()))
}

func (a *API) handleCompleteHabit(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req completionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Date == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Date is required")
		return
	}
	completion, created, err := a.Store.UpsertCompletion(r.Context(), id, ident.UserID, req.Date, req.Notes)
	if err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, completion)
}

func (a *API) handleDeleteCompletion(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	date := chi.URLParam(r, "date")
	if err := a.Store.DeleteCompletion(r.Context(), id, ident.UserID, date); err != nil {
		a.writeDomainError(w, err, "Habit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func defaultSettings() models.UserSettings {
	return models.UserSettings{Theme: "light"}
}

func settingsKey(userID int64) string {
	return fmt.Sprintf("user_settings:%d", userID)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	raw, err := a.Store.GetValue(r.Context(), settingsKey(ident.UserID))
	if err != nil {
		// No row yet means the user never saved settings.
		if errors.Is(err, repo.ErrNotFound) {
			writeJSON(w, http.StatusOK, defaultSettings())
			return
		}
		a.writeDomainError(w, err, "Settings")
		return
	}
	var settings models.UserSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		log.Printf("corrupt settings for user %d: %v", ident.UserID, err)
		writeJSON(w, http.StatusOK, defaultSettings())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.UserSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Theme == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Theme required")
		return
	}
	raw, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid payload")
		return
	}
	if err := a.Store.SetValue(r.Context(), settingsKey(ident.UserID), string(raw)); err != nil {
		a.writeDomainError(w, err, "Settings")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) writeDomainError(w http.ResponseWriter, err error, resource string) {
	switch {
	case errors.Is(err, repo.ErrValidation):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", resource+" not found")
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", resource+" already exists")
	default:
		log.Printf("storage error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error")
	}
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user")
		return auth.Identity{}, false
	}
	return ident, true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid payload")
		return false
	}
	return true
}
