package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nixlone/trackly/internal/models"
)

// Postgres is the remote store adapter.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// uniqueViolation reports whether err is a unique-constraint failure.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (s *Postgres) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*models.User, error) {
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		username, passwordHash, isAdmin).Scan(&id)
	if uniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_admin, created_at, updated_at FROM users WHERE username=$1`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_admin, created_at, updated_at FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, username, password_hash, is_admin, created_at, updated_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const taskColumns = `id, user_id, title, description, due_date, is_completed, energy_level, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.DueDate, &t.IsCompleted, &t.EnergyLevel, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Postgres) ListTasks(ctx context.Context, ownerID int64) ([]models.Task, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id=$1 ORDER BY due_date NULLS LAST, created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []models.Task{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.DueDate, &t.IsCompleted, &t.EnergyLevel, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Postgres) GetTask(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	return scanTask(s.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND user_id=$2`, id, ownerID))
}

func (s *Postgres) CreateTask(ctx context.Context, ownerID int64, title string, description *string, dueDate *time.Time, energyLevel *int) (*models.Task, error) {
	if err := validateTask(title, energyLevel); err != nil {
		return nil, err
	}
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO tasks (user_id, title, description, due_date, energy_level) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ownerID, title, description, dueDate, energyLevel).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id, ownerID)
}

func (s *Postgres) UpdateTask(ctx context.Context, id, ownerID int64, title string, description *string, dueDate *time.Time, isCompleted bool, energyLevel *int) (*models.Task, error) {
	if err := validateTask(title, energyLevel); err != nil {
		return nil, err
	}
	if _, err := s.GetTask(ctx, id, ownerID); err != nil {
		return nil, err
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE tasks SET title=$1, description=$2, due_date=$3, is_completed=$4, energy_level=$5, updated_at=now() WHERE id=$6 AND user_id=$7`,
		title, description, dueDate, isCompleted, energyLevel, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id, ownerID)
}

func (s *Postgres) DeleteTask(ctx context.Context, id, ownerID int64) error {
	cmd, err := s.Pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const habitColumns = `id, user_id, name, description, is_active, created_at, updated_at`

func scanHabit(row pgx.Row) (*models.Habit, error) {
	var h models.Habit
	err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.Description, &h.IsActive, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Postgres) ListHabits(ctx context.Context, ownerID int64) ([]models.Habit, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id=$1 ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	habits := []models.Habit{}
	for rows.Next() {
		var h models.Habit
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &h.Description, &h.IsActive, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func (s *Postgres) GetHabit(ctx context.Context, id, ownerID int64) (*models.Habit, error) {
	return scanHabit(s.Pool.QueryRow(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE id=$1 AND user_id=$2`, id, ownerID))
}

func (s *Postgres) CreateHabit(ctx context.Context, ownerID int64, name string, description *string) (*models.Habit, error) {
	if err := validateHabit(name); err != nil {
		return nil, err
	}
	var id int64
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO habits (user_id, name, description) VALUES ($1, $2, $3) RETURNING id`,
		ownerID, name, description).Scan(&id)
	if err != nil {
		return nil, err
	}
	return s.GetHabit(ctx, id, ownerID)
}

func (s *Postgres) UpdateHabit(ctx context.Context, id, ownerID int64, name string, description *string, isActive bool) (*models.Habit, error) {
	if err := validateHabit(name); err != nil {
		return nil, err
	}
	if _, err := s.GetHabit(ctx, id, ownerID); err != nil {
		return nil, err
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE habits SET name=$1, description=$2, is_active=$3, updated_at=now() WHERE id=$4 AND user_id=$5`,
		name, description, isActive, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.GetHabit(ctx, id, ownerID)
}

// DeleteHabit removes the habit; completions go with it via the
// habit_completions foreign-key cascade.
func (s *Postgres) DeleteHabit(ctx context.Context, id, ownerID int64) error {
	cmd, err := s.Pool.Exec(ctx, `DELETE FROM habits WHERE id=$1 AND user_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) habitOwned(ctx context.Context, q rowQuerier, habitID, ownerID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM habits WHERE id=$1 AND user_id=$2)`, habitID, ownerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func scanCompletion(row pgx.Row) (*models.HabitCompletion, error) {
	var c models.HabitCompletion
	var day time.Time
	err := row.Scan(&c.ID, &c.HabitID, &day, &c.Notes, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CompletedDate = day.Format(DateFormat)
	return &c, nil
}

func (s *Postgres) ListCompletions(ctx context.Context, habitID, ownerID int64) ([]models.HabitCompletion, error) {
	if err := s.habitOwned(ctx, s.Pool, habitID, ownerID); err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx,
		`SELECT id, habit_id, completed_date, notes, created_at FROM habit_completions WHERE habit_id=$1 ORDER BY completed_date DESC`, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	completions := []models.HabitCompletion{}
	for rows.Next() {
		var c models.HabitCompletion
		var day time.Time
		if err := rows.Scan(&c.ID, &c.HabitID, &day, &c.Notes, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CompletedDate = day.Format(DateFormat)
		completions = append(completions, c)
	}
	return completions, rows.Err()
}

// UpsertCompletion records a habit as done for a calendar day. The
// check-then-branch runs inside one transaction; the unique constraint
// on (habit_id, completed_date) is the backstop if two requests race.
func (s *Postgres) UpsertCompletion(ctx context.Context, habitID, ownerID int64, date string, notes *string) (*models.HabitCompletion, bool, error) {
	if err := validateDate(date); err != nil {
		return nil, false, err
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if err := s.habitOwned(ctx, tx, habitID, ownerID); err != nil {
		return nil, false, err
	}

	var existingID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM habit_completions WHERE habit_id=$1 AND completed_date=$2`, habitID, date).Scan(&existingID)
	created := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created = true
		err = tx.QueryRow(ctx,
			`INSERT INTO habit_completions (habit_id, completed_date, notes) VALUES ($1, $2, $3) RETURNING id`,
			habitID, date, notes).Scan(&existingID)
		if uniqueViolation(err) {
			return nil, false, ErrConflict
		}
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		if _, err := tx.Exec(ctx, `UPDATE habit_completions SET notes=$1 WHERE id=$2`, notes, existingID); err != nil {
			return nil, false, err
		}
	}

	completion, err := scanCompletion(tx.QueryRow(ctx,
		`SELECT id, habit_id, completed_date, notes, created_at FROM habit_completions WHERE id=$1`, existingID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return completion, created, nil
}

// DeleteCompletion is idempotent: deleting a day that was never
// completed succeeds silently.
func (s *Postgres) DeleteCompletion(ctx context.Context, habitID, ownerID int64, date string) error {
	if err := validateDate(date); err != nil {
		return err
	}
	if err := s.habitOwned(ctx, s.Pool, habitID, ownerID); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM habit_completions WHERE habit_id=$1 AND completed_date=$2`, habitID, date)
	return err
}

func (s *Postgres) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.Pool.QueryRow(ctx, `SELECT value_data FROM key_value_store WHERE key_name=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Postgres) SetValue(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO key_value_store (key_name, value_data) VALUES ($1, $2)
		ON CONFLICT (key_name) DO UPDATE SET value_data=EXCLUDED.value_data, updated_at=now()`, key, value)
	return err
}
