package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomfeed/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file, or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Migrate applies the embedded schema.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// ==== UserStore implementation ====

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.UID == "" {
		user.UID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	query := `
		INSERT INTO users (uid, email, password_hash, display_name, photo_url, phone_number, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.UID, user.Email, user.PasswordHash, user.DisplayName,
		user.PhotoURL, user.PhoneNumber, user.Address, toUnix(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `uid, email, password_hash, display_name, photo_url, phone_number, address, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var created int64
	if err := row.Scan(
		&user.UID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.PhotoURL,
		&user.PhoneNumber,
		&user.Address,
		&created,
	); err != nil {
		return nil, err
	}
	user.CreatedAt = fromUnix(created)
	return &user, nil
}

// GetUser retrieves a user by UID.
func (s *SQLiteStore) GetUser(ctx context.Context, uid string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE uid = ?`, uid)
	user, err := scanUser(row)
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, uid string, upd store.ProfileUpdate) (*store.User, error) {
	var sets []string
	var args []any
	if upd.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *upd.DisplayName)
	}
	if upd.PhotoURL != nil {
		sets = append(sets, "photo_url = ?")
		args = append(args, *upd.PhotoURL)
	}
	if upd.PhoneNumber != nil {
		sets = append(sets, "phone_number = ?")
		args = append(args, *upd.PhoneNumber)
	}
	if upd.Address != nil {
		sets = append(sets, "address = ?")
		args = append(args, *upd.Address)
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, uid)
	}

	args = append(args, uid)
	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE uid = ?`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("user: %w", store.ErrNotFound)
	}
	return s.GetUser(ctx, uid)
}

// ListUsers returns every user ordered by display name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name COLLATE NOCASE ASC, uid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ==== GroupStore implementation ====

// CreateGroup inserts a group and its members in one transaction.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *store.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO chat_groups (id, name, created_by, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, group.ID, group.Name, group.CreatedBy, toUnix(group.CreatedAt)); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	if err := addMembersTx(ctx, tx, group.ID, group.Members, toUnix(group.CreatedAt)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func addMembersTx(ctx context.Context, tx *sql.Tx, groupID string, uids []string, joined int64) error {
	memberQuery := `
		INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	for _, uid := range uids {
		if _, err := tx.ExecContext(ctx, memberQuery, groupID, uid, joined); err != nil {
			return fmt.Errorf("add member %s: %w", uid, err)
		}
	}
	return nil
}

// GetGroup retrieves a group with its members.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*store.Group, error) {
	var group store.Group
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM chat_groups WHERE id = ?`, id).
		Scan(&group.ID, &group.Name, &group.CreatedBy, &created)
	if err != nil {
		return nil, notFound("group", err)
	}
	group.CreatedAt = fromUnix(created)

	members, err := s.listMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return &group, nil
}

func (s *SQLiteStore) listMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

// ListGroupsForMember lists groups containing uid, newest first.
func (s *SQLiteStore) ListGroupsForMember(ctx context.Context, uid string) ([]*store.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id
		FROM chat_groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC, g.id ASC
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}

	var groupIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groupIDs = append(groupIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before issuing per-group queries.
	rows.Close()

	groups := make([]*store.Group, 0, len(groupIDs))
	for _, id := range groupIDs {
		group, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// AddMembers adds users to a group, ignoring existing members.
func (s *SQLiteStore) AddMembers(ctx context.Context, groupID string, uids []string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := addMembersTx(ctx, tx, groupID, uids, toUnix(s.now())); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

const messageColumns = `id, text, user_id, username, created_at, gif_url, image_url, group_id`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var created int64
	var groupID sql.NullString
	if err := row.Scan(
		&msg.ID,
		&msg.Text,
		&msg.UserID,
		&msg.Username,
		&created,
		&msg.GifURL,
		&msg.ImageURL,
		&groupID,
	); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromUnix(created)
	if groupID.Valid {
		msg.GroupID = &groupID.String
	}
	return &msg, nil
}

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Text, msg.UserID, msg.Username, toUnix(msg.CreatedAt),
		msg.GifURL, msg.ImageURL, msg.GroupID,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// ListRoomMessages returns all messages of a room ordered by creation ascending.
// Ties keep insertion order.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, groupID *string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE group_id IS ?
		ORDER BY created_at ASC, rowid ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// DeleteRoomMessages removes every message of a room.
func (s *SQLiteStore) DeleteRoomMessages(ctx context.Context, groupID *string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE group_id IS ?`, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete room messages: %w", err)
	}
	return result.RowsAffected()
}

// ==== BlockStore implementation ====

func (s *SQLiteStore) listColumn(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListBlocked returns the UIDs blocked by uid.
func (s *SQLiteStore) ListBlocked(ctx context.Context, uid string) ([]string, error) {
	return s.listColumn(ctx, `SELECT blocked_id FROM blocks WHERE user_id = ? ORDER BY created_at ASC, blocked_id ASC`, uid)
}

// ListBlockers returns the UIDs that have blocked uid.
func (s *SQLiteStore) ListBlockers(ctx context.Context, uid string) ([]string, error) {
	return s.listColumn(ctx, `SELECT user_id FROM blocks WHERE blocked_id = ? ORDER BY user_id ASC`, uid)
}

// Block adds target to uid's block list. Blocking twice is a no-op.
func (s *SQLiteStore) Block(ctx context.Context, uid, target string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocks (user_id, blocked_id, created_at)
		VALUES (?, ?, ?)
	`, uid, target, toUnix(s.now()))
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Unblock removes target from uid's block list.
func (s *SQLiteStore) Unblock(ctx context.Context, uid, target string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE user_id = ? AND blocked_id = ?`, uid, target)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("block: %w", store.ErrNotFound)
	}
	return nil
}

// ==== DeviceStore implementation ====

// SaveDeviceToken registers a token for a user.
func (s *SQLiteStore) SaveDeviceToken(ctx context.Context, uid, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (token, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id, created_at = excluded.created_at
	`, token, uid, toUnix(s.now()))
	if err != nil {
		return fmt.Errorf("upsert device token: %w", err)
	}
	return nil
}

// ListDeviceTokens returns the tokens of the given users, or of everyone when uids is empty.
func (s *SQLiteStore) ListDeviceTokens(ctx context.Context, uids []string) ([]*store.DeviceToken, error) {
	query := `SELECT token, user_id, created_at FROM device_tokens`
	var args []any
	if len(uids) > 0 {
		placeholders := make([]string, len(uids))
		for i, uid := range uids {
			placeholders[i] = "?"
			args = append(args, uid)
		}
		query += ` WHERE user_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY user_id ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*store.DeviceToken
	for rows.Next() {
		var t store.DeviceToken
		var created int64
		if err := rows.Scan(&t.Token, &t.UserID, &created); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		t.CreatedAt = fromUnix(created)
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// DeleteDeviceToken removes a token.
func (s *SQLiteStore) DeleteDeviceToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}
