package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nixlone/trackly/internal/auth"
	"github.com/nixlone/trackly/internal/models"
	"github.com/nixlone/trackly/internal/repo"
)

// ErrInvalidCredentials covers both an unknown username and a wrong
// password, so login responses cannot be used to enumerate accounts.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	Store repo.Store
	Auth  *auth.Manager
}

func New(store repo.Store, authManager *auth.Manager) *Service {
	return &Service{Store: store, Auth: authManager}
}

// EnsureDefaultAdmin bootstraps an admin/admin account when the user
// table is empty so a fresh install is reachable. The credential is a
// known operational risk until the password is changed.
func (s *Service) EnsureDefaultAdmin(ctx context.Context) error {
	count, err := s.Store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := s.Auth.HashPassword("admin")
	if err != nil {
		return err
	}
	if _, err := s.Store.CreateUser(ctx, "admin", hash, true); err != nil {
		// Another instance may have bootstrapped concurrently.
		if errors.Is(err, repo.ErrConflict) {
			return nil
		}
		return err
	}
	log.Printf("created default admin user; change its password before exposing this instance")
	return nil
}

func (s *Service) Register(ctx context.Context, username, password string) (*models.User, string, error) {
	hash, err := s.Auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user, err := s.Store.CreateUser(ctx, username, hash, false)
	if err != nil {
		return nil, "", err
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.Store.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if err := s.Auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) issueToken(user *models.User) (string, error) {
	return s.Auth.GenerateToken(auth.Identity{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	})
}

type HabitStats struct {
	CurrentStreak    int `json:"current_streak"`
	LongestStreak    int `json:"longest_streak"`
	TotalCompletions int `json:"total_completions"`
}

// ComputeHabitStats aggregates completion rows into streaks. A current
// streak counts consecutive days ending today or yesterday; a day with
// no completion breaks it.
func ComputeHabitStats(completions []models.HabitCompletion, today time.Time) HabitStats {
	stats := HabitStats{TotalCompletions: len(completions)}
	if len(completions) == 0 {
		return stats
	}

	days := make(map[string]bool, len(completions))
	var dates []time.Time
	for _, c := range completions {
		d, err := time.Parse(repo.DateFormat, c.CompletedDate)
		if err != nil {
			continue
		}
		key := d.Format(repo.DateFormat)
		if !days[key] {
			days[key] = true
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return stats
	}

	today = today.Truncate(24 * time.Hour)
	anchor := today
	if !days[anchor.Format(repo.DateFormat)] {
		anchor = anchor.AddDate(0, 0, -1)
	}
	for days[anchor.Format(repo.DateFormat)] {
		stats.CurrentStreak++
		anchor = anchor.AddDate(0, 0, -1)
	}

	for _, d := range dates {
		// Only count runs from their first day.
		if days[d.AddDate(0, 0, -1).Format(repo.DateFormat)] {
			continue
		}
		length := 0
		for cursor := d; days[cursor.Format(repo.DateFormat)]; cursor = cursor.AddDate(0, 0, 1) {
			length++
		}
		if length > stats.LongestStreak {
			stats.LongestStreak = length
		}
	}
	return stats
}
