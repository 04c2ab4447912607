package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"esther/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate")
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dbPath and brings
// its schema up to date. Migration progress is reported through logger.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(logger.WithPrefix("migrate"))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, full_name, short_name, password, is_active) VALUES (?, ?, ?, ?, ?);`,
		u.Email, u.FullName, u.ShortName, u.Password, boolToInt(true))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", u.Email, ErrDuplicate)
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.UserByID(ctx, id)
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, short_name, password, is_active FROM users WHERE id = ?;`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, short_name, password, is_active FROM users WHERE email = ? COLLATE NOCASE;`, email))
}

func (s *Store) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var active int
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.ShortName, &u.Password, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.IsActive = active == 1
	return &u, nil
}

// Lists returns the lists owned by ownerID in creation order. Private lists
// are only included when includePrivate is set.
func (s *Store) Lists(ctx context.Context, ownerID int64, includePrivate bool) ([]models.List, error) {
	query := `SELECT id, owner_id, title, slug, description, is_public, created FROM lists WHERE owner_id = ?`
	if !includePrivate {
		query += ` AND is_public = 1`
	}
	query += ` ORDER BY created, id;`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lists := []models.List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lists, nil
}

func (s *Store) ListBySlug(ctx context.Context, ownerID int64, slug string) (*models.List, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, slug, description, is_public, created FROM lists WHERE owner_id = ? AND slug = ?;`,
		ownerID, slug)
	l, err := scanList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// CreateList inserts l. The title and slug must be unique for the owner.
func (s *Store) CreateList(ctx context.Context, l models.List) (*models.List, error) {
	if err := s.checkListUnique(ctx, l); err != nil {
		return nil, err
	}
	if l.Created.IsZero() {
		l.Created = models.NewTimestamp(time.Now())
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO lists (owner_id, title, slug, description, is_public, created) VALUES (?, ?, ?, ?, ?, ?);`,
		l.UserID, l.Title, l.Slug, l.Description, boolToInt(l.IsPublic), l.Created.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return s.ListBySlug(ctx, l.UserID, l.Slug)
}

// UpdateList writes every mutable column of l, identified by its ID.
func (s *Store) UpdateList(ctx context.Context, l models.List) (*models.List, error) {
	if err := s.checkListUnique(ctx, l); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE lists SET title = ?, slug = ?, description = ?, is_public = ? WHERE id = ?;`,
		l.Title, l.Slug, l.Description, boolToInt(l.IsPublic), l.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.ListBySlug(ctx, l.UserID, l.Slug)
}

func (s *Store) checkListUnique(ctx context.Context, l models.List) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lists WHERE owner_id = ? AND id != ? AND (slug = ? OR title = ? COLLATE NOCASE);`,
		l.UserID, l.ID, l.Slug, l.Title).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicate
	}
	return nil
}

// Items returns the items of list ordered by due date, undated items last.
func (s *Store) Items(ctx context.Context, list models.List) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, details, due, is_done FROM items WHERE list_id = ? ORDER BY due IS NULL, due, id;`,
		list.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows, list.Slug)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) Item(ctx context.Context, list models.List, id int64) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, details, due, is_done FROM items WHERE list_id = ? AND id = ?;`,
		list.ID, id)
	it, err := scanItem(row, list.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

func (s *Store) CreateItem(ctx context.Context, list models.List, it models.Item) (*models.Item, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (list_id, description, details, due, is_done, created) VALUES (?, ?, ?, ?, ?, ?);`,
		list.ID, it.Description, it.Details, nullTime(it.Due), boolToInt(it.IsDone), now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Item(ctx, list, id)
}

// UpdateItem writes every mutable column of it, identified by its ID.
func (s *Store) UpdateItem(ctx context.Context, list models.List, it models.Item) (*models.Item, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET description = ?, details = ?, due = ?, is_done = ? WHERE list_id = ? AND id = ?;`,
		it.Description, it.Details, nullTime(it.Due), boolToInt(it.IsDone), list.ID, it.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Item(ctx, list, it.ID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanList(row scanner) (*models.List, error) {
	var l models.List
	var public int
	var createdStr string
	if err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Slug, &l.Description, &public, &createdStr); err != nil {
		return nil, err
	}
	l.IsPublic = public == 1
	if created, err := time.Parse(time.RFC3339, createdStr); err == nil {
		l.Created = models.NewTimestamp(created)
	}
	return &l, nil
}

func scanItem(row scanner, listSlug string) (*models.Item, error) {
	var it models.Item
	var done int
	var dueStr sql.NullString
	if err := row.Scan(&it.ID, &it.Description, &it.Details, &dueStr, &done); err != nil {
		return nil, err
	}
	it.Slug = listSlug
	it.IsDone = done == 1
	if dueStr.Valid {
		if parsed, err := time.Parse(time.RFC3339, dueStr.String); err == nil {
			due := models.NewTimestamp(parsed)
			it.Due = &due
		}
	}
	return &it, nil
}

func nullTime(t *models.Timestamp) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	u.RawQuery = q.Encode()
	return u.String()
}
