package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/forgeworks/forge/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	title TEXT,
	workspace_id INTEGER NOT NULL,
	context TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP,
	metrics TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversations_workspace_updated
	ON conversations (workspace_id, updated_at DESC);
`

// SQLiteRepository stores conversations in a SQLite database, scoped to a
// workspace id.
type SQLiteRepository struct {
	db          *sql.DB
	workspaceID int64
}

// Open opens (creating if needed) the database at path for the workspace.
func Open(path string, workspaceID int64) (*SQLiteRepository, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	repo := &SQLiteRepository{db: db, workspaceID: workspaceID}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize conversation store: %w", err)
	}
	return repo, nil
}

// NewWithDB wraps an existing database handle; the schema must exist.
func NewWithDB(db *sql.DB, workspaceID int64) *SQLiteRepository {
	return &SQLiteRepository{db: db, workspaceID: workspaceID}
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Upsert(ctx context.Context, conversation *models.Conversation) error {
	var contextJSON any
	if conversation.HasMessages() {
		encoded, err := json.Marshal(newContextRecord(conversation.Context))
		if err != nil {
			return fmt.Errorf("serialize context for conversation %s: %w", conversation.ID, err)
		}
		contextJSON = string(encoded)
	}

	metricsJSON, err := json.Marshal(newMetricsRecord(conversation.Metrics))
	if err != nil {
		return fmt.Errorf("serialize metrics for conversation %s: %w", conversation.ID, err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, title, workspace_id, context, created_at, updated_at, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			title = excluded.title,
			context = excluded.context,
			updated_at = excluded.updated_at,
			metrics = excluded.metrics`,
		conversation.ID,
		conversation.Title,
		r.workspaceID,
		contextJSON,
		conversation.Metadata.CreatedAt.UTC(),
		now,
		string(metricsJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conversation.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, title, context, created_at, updated_at, metrics
		FROM conversations
		WHERE conversation_id = ? AND workspace_id = ?`,
		id, r.workspaceID,
	)
	conversation, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conversation, err
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*models.Conversation, error) {
	query := `
		SELECT conversation_id, title, context, created_at, updated_at, metrics
		FROM conversations
		WHERE workspace_id = ? AND context IS NOT NULL
		ORDER BY updated_at DESC`
	args := []any{r.workspaceID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []*models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conversation)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Last(ctx context.Context) (*models.Conversation, error) {
	list, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// Delete scopes the WHERE clause to the current workspace so a conversation
// owned by another workspace is never removed.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE conversation_id = ? AND workspace_id = ?`,
		id, r.workspaceID,
	)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		id          string
		title       sql.NullString
		contextJSON sql.NullString
		createdAt   time.Time
		updatedAt   sql.NullTime
		metricsJSON sql.NullString
	)
	if err := row.Scan(&id, &title, &contextJSON, &createdAt, &updatedAt, &metricsJSON); err != nil {
		return nil, err
	}

	conversation := &models.Conversation{
		ID:       id,
		Metadata: models.ConversationMeta{CreatedAt: createdAt},
	}
	if title.Valid {
		conversation.Title = &title.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		conversation.Metadata.UpdatedAt = &t
	}

	if contextJSON.Valid && contextJSON.String != "" {
		var record contextRecord
		if err := json.Unmarshal([]byte(contextJSON.String), &record); err != nil {
			return nil, fmt.Errorf("deserialize context for conversation %s: %w", id, err)
		}
		domain, err := record.toDomain()
		if err != nil {
			return nil, fmt.Errorf("deserialize context for conversation %s: %w", id, err)
		}
		conversation.Context = domain
	}

	if metricsJSON.Valid && metricsJSON.String != "" {
		var record metricsRecord
		if err := json.Unmarshal([]byte(metricsJSON.String), &record); err != nil {
			return nil, fmt.Errorf("deserialize metrics for conversation %s: %w", id, err)
		}
		conversation.Metrics = record.toDomain()
	} else {
		conversation.Metrics = models.NewMetrics(createdAt)
	}

	return conversation, nil
}
