package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nixlone/trackly/internal/models"
)

// Memory is the local store adapter. It backs STORE=memory deployments
// and the handler tests; the contract is identical to Postgres.
type Memory struct {
	mu          sync.Mutex
	nextID      int64
	users       map[int64]*models.User
	tasks       map[int64]*models.Task
	habits      map[int64]*models.Habit
	completions map[int64]*models.HabitCompletion
	kv          map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[int64]*models.User),
		tasks:       make(map[int64]*models.Task),
		habits:      make(map[int64]*models.Habit),
		completions: make(map[int64]*models.HabitCompletion),
		kv:          make(map[string]string),
	}
}

func (s *Memory) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EnergyLevel != nil {
		e := *t.EnergyLevel
		c.EnergyLevel = &e
	}
	return &c
}

func cloneHabit(h *models.Habit) *models.Habit {
	c := *h
	if h.Description != nil {
		d := *h.Description
		c.Description = &d
	}
	return &c
}

func cloneCompletion(c *models.HabitCompletion) *models.HabitCompletion {
	out := *c
	if c.Notes != nil {
		n := *c.Notes
		out.Notes = &n
	}
	return &out
}

func (s *Memory) CountUsers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *Memory) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, ErrConflict
		}
	}
	now := time.Now().UTC()
	u := &models.User{
		ID:           s.id(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Memory) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := []models.User{}
	for _, u := range s.users {
		users = append(users, *cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Memory) ListTasks(ctx context.Context, ownerID int64) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := []models.Task{}
	for _, t := range s.tasks {
		if t.UserID == ownerID {
			tasks = append(tasks, *cloneTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

func (s *Memory) GetTask(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != ownerID {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *Memory) CreateTask(ctx context.Context, ownerID int64, title string, description *string, dueDate *time.Time, energyLevel *int) (*models.Task, error) {
	if err := validateTask(title, energyLevel); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t := &models.Task{
		ID:          s.id(),
		UserID:      ownerID,
		Title:       title,
		Description: description,
		DueDate:     dueDate,
		EnergyLevel: energyLevel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = cloneTask(t)
	return t, nil
}

func (s *Memory) UpdateTask(ctx context.Context, id, ownerID int64, title string, description *string, dueDate *time.Time, isCompleted bool, energyLevel *int) (*models.Task, error) {
	if err := validateTask(title, energyLevel); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != ownerID {
		return nil, ErrNotFound
	}
	t.Title = title
	t.Description = description
	t.DueDate = dueDate
	t.IsCompleted = isCompleted
	t.EnergyLevel = energyLevel
	t.UpdatedAt = time.Now().UTC()
	return cloneTask(t), nil
}

func (s *Memory) DeleteTask(ctx context.Context, id, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != ownerID {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Memory) ListHabits(ctx context.Context, ownerID int64) ([]models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	habits := []models.Habit{}
	for _, h := range s.habits {
		if h.UserID == ownerID {
			habits = append(habits, *cloneHabit(h))
		}
	}
	sort.Slice(habits, func(i, j int) bool {
		if habits[i].Name != habits[j].Name {
			return habits[i].Name < habits[j].Name
		}
		return habits[i].ID < habits[j].ID
	})
	return habits, nil
}

func (s *Memory) GetHabit(ctx context.Context, id, ownerID int64) (*models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[id]
	if !ok || h.UserID != ownerID {
		return nil, ErrNotFound
	}
	return cloneHabit(h), nil
}

func (s *Memory) CreateHabit(ctx context.Context, ownerID int64, name string, description *string) (*models.Habit, error) {
	if err := validateHabit(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	h := &models.Habit{
		ID:          s.id(),
		UserID:      ownerID,
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.habits[h.ID] = cloneHabit(h)
	return h, nil
}

func (s *Memory) UpdateHabit(ctx context.Context, id, ownerID int64, name string, description *string, isActive bool) (*models.Habit, error) {
	if err := validateHabit(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[id]
	if !ok || h.UserID != ownerID {
		return nil, ErrNotFound
	}
	h.Name = name
	h.Description = description
	h.IsActive = isActive
	h.UpdatedAt = time.Now().UTC()
	return cloneHabit(h), nil
}

func (s *Memory) DeleteHabit(ctx context.Context, id, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[id]
	if !ok || h.UserID != ownerID {
		return ErrNotFound
	}
	delete(s.habits, id)
	// Cascade, mirroring the habit_completions foreign key.
	for cid, c := range s.completions {
		if c.HabitID == id {
			delete(s.completions, cid)
		}
	}
	return nil
}

func (s *Memory) habitOwnedLocked(habitID, ownerID int64) error {
	h, ok := s.habits[habitID]
	if !ok || h.UserID != ownerID {
		return ErrNotFound
	}
	return nil
}

func (s *Memory) ListCompletions(ctx context.Context, habitID, ownerID int64) ([]models.HabitCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.habitOwnedLocked(habitID, ownerID); err != nil {
		return nil, err
	}
	completions := []models.HabitCompletion{}
	for _, c := range s.completions {
		if c.HabitID == habitID {
			completions = append(completions, *cloneCompletion(c))
		}
	}
	sort.Slice(completions, func(i, j int) bool {
		return completions[i].CompletedDate > completions[j].CompletedDate
	})
	return completions, nil
}

func (s *Memory) UpsertCompletion(ctx context.Context, habitID, ownerID int64, date string, notes *string) (*models.HabitCompletion, bool, error) {
	if err := validateDate(date); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.habitOwnedLocked(habitID, ownerID); err != nil {
		return nil, false, err
	}
	for _, c := range s.completions {
		if c.HabitID == habitID && c.CompletedDate == date {
			if notes != nil {
				n := *notes
				c.Notes = &n
			} else {
				c.Notes = nil
			}
			return cloneCompletion(c), false, nil
		}
	}
	c := &models.HabitCompletion{
		ID:            s.id(),
		HabitID:       habitID,
		CompletedDate: date,
		Notes:         notes,
		CreatedAt:     time.Now().UTC(),
	}
	s.completions[c.ID] = cloneCompletion(c)
	return c, true, nil
}

func (s *Memory) DeleteCompletion(ctx context.Context, habitID, ownerID int64, date string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.habitOwnedLocked(habitID, ownerID); err != nil {
		return err
	}
	for cid, c := range s.completions {
		if c.HabitID == habitID && c.CompletedDate == date {
			delete(s.completions, cid)
			return nil
		}
	}
	// Absent row is a no-op, same as the SQL DELETE.
	return nil
}

func (s *Memory) GetValue(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *Memory) SetValue(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}
