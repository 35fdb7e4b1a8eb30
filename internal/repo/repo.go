package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nixlone/trackly/internal/models"
)

var (
	// ErrNotFound covers both a missing row and a row owned by someone
	// else. The two cases are deliberately indistinguishable so that
	// responses never reveal the existence of another user's data.
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// DateFormat is the calendar-day key used for habit completions.
const DateFormat = "2006-01-02"

// Store is the persistence contract. Which implementation backs it
// (Postgres or in-memory) is decided once at startup; nothing mutates
// the choice at runtime.
type Store interface {
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	ListTasks(ctx context.Context, ownerID int64) ([]models.Task, error)
	GetTask(ctx context.Context, id, ownerID int64) (*models.Task, error)
	CreateTask(ctx context.Context, ownerID int64, title string, description *string, dueDate *time.Time, energyLevel *int) (*models.Task, error)
	UpdateTask(ctx context.Context, id, ownerID int64, title string, description *string, dueDate *time.Time, isCompleted bool, energyLevel *int) (*models.Task, error)
	DeleteTask(ctx context.Context, id, ownerID int64) error

	ListHabits(ctx context.Context, ownerID int64) ([]models.Habit, error)
	GetHabit(ctx context.Context, id, ownerID int64) (*models.Habit, error)
	CreateHabit(ctx context.Context, ownerID int64, name string, description *string) (*models.Habit, error)
	UpdateHabit(ctx context.Context, id, ownerID int64, name string, description *string, isActive bool) (*models.Habit, error)
	DeleteHabit(ctx context.Context, id, ownerID int64) error

	ListCompletions(ctx context.Context, habitID, ownerID int64) ([]models.HabitCompletion, error)
	UpsertCompletion(ctx context.Context, habitID, ownerID int64, date string, notes *string) (*models.HabitCompletion, bool, error)
	DeleteCompletion(ctx context.Context, habitID, ownerID int64, date string) error

	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

func validateTask(title string, energyLevel *int) error {
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if energyLevel != nil && (*energyLevel < 1 || *energyLevel > 5) {
		return fmt.Errorf("%w: energy_level must be between 1 and 5", ErrValidation)
	}
	return nil
}

func validateHabit(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return nil
}

func validateDate(date string) error {
	if _, err := time.Parse(DateFormat, date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	return nil
}
