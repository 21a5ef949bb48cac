package conversations

import (
	"context"

	"github.com/forgeworks/forge/pkg/models"
)

// Repository persists conversations scoped to one workspace. Reads and
// deletes never cross the workspace boundary.
type Repository interface {
	// Upsert writes the conversation; on conflict by id it updates title,
	// context, metrics, and bumps updated_at. Conversations with an empty
	// context store a NULL context.
	Upsert(ctx context.Context, conversation *models.Conversation) error

	// Get returns the conversation or nil when absent.
	Get(ctx context.Context, id string) (*models.Conversation, error)

	// List returns conversations with a non-empty context, most recently
	// updated first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*models.Conversation, error)

	// Last returns the most recently updated conversation, or nil.
	Last(ctx context.Context) (*models.Conversation, error)

	// Delete removes the conversation when it belongs to this workspace.
	Delete(ctx context.Context, id string) error
}
