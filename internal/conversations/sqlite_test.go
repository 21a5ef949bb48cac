package conversations

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/forgeworks/forge/pkg/models"
)

func openTestRepo(t *testing.T, workspaceID int64) *SQLiteRepository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "forge.db"), workspaceID)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleConversation(title string) *models.Conversation {
	chat := &models.Context{}
	chat.AddMessage(models.UserMessage("hello", ""))
	chat.AddMessage(models.AssistantMessage("hi there", nil, nil))
	metrics := models.NewMetrics(time.Now().UTC())
	metrics.RecordOperation("/tmp/a.go", models.FileOperation{LinesAdded: 3, Tool: models.OperationWrite})
	return &models.Conversation{
		ID:       uuid.NewString(),
		Title:    &title,
		Context:  chat,
		Metrics:  metrics,
		Metadata: models.ConversationMeta{CreatedAt: time.Now().UTC()},
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	repo := openTestRepo(t, 1)
	ctx := context.Background()

	conversation := sampleConversation("first")
	if err := repo.Upsert(ctx, conversation); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("conversation not found after upsert")
	}
	if *got.Title != "first" {
		t.Errorf("title = %q", *got.Title)
	}
	if len(got.Context.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(got.Context.Messages))
	}
	if got.Metadata.UpdatedAt == nil {
		t.Error("updated_at not set on upsert")
	}
	if op, ok := got.Metrics.FileOperations["/tmp/a.go"]; !ok || op.LinesAdded != 3 {
		t.Errorf("metrics lost: %+v", got.Metrics.FileOperations)
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	repo := openTestRepo(t, 1)
	ctx := context.Background()

	conversation := sampleConversation("before")
	if err := repo.Upsert(ctx, conversation); err != nil {
		t.Fatal(err)
	}
	newTitle := "after"
	conversation.Title = &newTitle
	conversation.Context.AddMessage(models.UserMessage("more", ""))
	if err := repo.Upsert(ctx, conversation); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *got.Title != "after" || len(got.Context.Messages) != 3 {
		t.Errorf("update not applied: title=%q messages=%d", *got.Title, len(got.Context.Messages))
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %d rows, want 1 after upsert of same id", len(list))
	}
}

func TestEmptyContextStoredAsNULLAndExcludedFromList(t *testing.T) {
	repo := openTestRepo(t, 1)
	ctx := context.Background()

	empty := &models.Conversation{
		ID:       uuid.NewString(),
		Context:  &models.Context{},
		Metrics:  models.NewMetrics(time.Now().UTC()),
		Metadata: models.ConversationMeta{CreatedAt: time.Now().UTC()},
	}
	if err := repo.Upsert(ctx, empty); err != nil {
		t.Fatal(err)
	}
	full := sampleConversation("has content")
	if err := repo.Upsert(ctx, full); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != full.ID {
		t.Errorf("list = %d rows, want only the non-empty conversation", len(list))
	}

	got, err := repo.Get(ctx, empty.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("empty conversation should still be retrievable by id")
	}
	if got.Context != nil {
		t.Errorf("context = %+v, want nil for NULL column", got.Context)
	}
}

func TestListOrdersByUpdatedAtDescending(t *testing.T) {
	repo := openTestRepo(t, 1)
	ctx := context.Background()

	first := sampleConversation("older")
	second := sampleConversation("newer")
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("most recently updated not first: %v", []string{list[0].ID, list[1].ID})
	}

	last, err := repo.Last(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != second.ID {
		t.Errorf("Last() = %v, want newest", last)
	}
}

func TestDeleteIsWorkspaceScoped(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	w1, err := Open(dbPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer w1.Close()
	w2 := NewWithDB(w1.db, 2)
	ctx := context.Background()

	conversation := sampleConversation("owned by w1")
	if err := w1.Upsert(ctx, conversation); err != nil {
		t.Fatal(err)
	}

	// Deleting from another workspace succeeds but removes nothing.
	if err := w2.Delete(ctx, conversation.ID); err != nil {
		t.Fatal(err)
	}
	got, err := w1.Get(ctx, conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("cross-workspace delete removed the row")
	}

	// Other workspaces can't read it either.
	fromW2, err := w2.Get(ctx, conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fromW2 != nil {
		t.Error("conversation visible across workspaces")
	}

	if err := w1.Delete(ctx, conversation.ID); err != nil {
		t.Fatal(err)
	}
	got, err = w1.Get(ctx, conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("owning workspace failed to delete")
	}
}

func TestDeleteSQLIncludesWorkspacePredicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	repo := NewWithDB(db, 7)
	mock.ExpectExec("DELETE FROM conversations").
		WithArgs("conv-1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("workspace id not bound in delete: %v", err)
	}
}

func TestCorruptContextNamesConversation(t *testing.T) {
	repo := openTestRepo(t, 1)
	ctx := context.Background()

	if _, err := repo.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, title, workspace_id, context, created_at, updated_at, metrics)
		VALUES ('broken-id', NULL, 1, '{"messages": [12]}', ?, ?, NULL)`,
		time.Now().UTC(), time.Now().UTC(),
	); err != nil {
		t.Fatal(err)
	}

	_, err := repo.Get(ctx, "broken-id")
	if err == nil {
		t.Fatal("corrupt context deserialized without error")
	}
	if !strings.Contains(err.Error(), "broken-id") {
		t.Errorf("error %q does not name the conversation id", err)
	}
}
