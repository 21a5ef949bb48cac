package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeworks/forge/internal/snapshot"
)

// SyntaxError is one informational finding from post-patch validation.
type SyntaxError struct {
	Line    int
	Message string
}

// Validator checks patched content for syntax problems. Findings are
// informational; they never fail the patch.
type Validator interface {
	ValidateFile(path, content string) []SyntaxError
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(path, content string) []SyntaxError

func (f ValidatorFunc) ValidateFile(path, content string) []SyntaxError {
	return f(path, content)
}

// Output reports the result of a file patch.
type Output struct {
	Before       string
	After        string
	ContentHash  string
	LinesAdded   int
	LinesRemoved int
	Errors       []SyntaxError
}

// Service patches files on disk, capturing a snapshot before every write so
// the operation can be undone.
type Service struct {
	snapshots *snapshot.Store
	validator Validator
	logger    *slog.Logger
}

// NewService creates a patch service. validator may be nil.
func NewService(snapshots *snapshot.Store, validator Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{snapshots: snapshots, validator: validator, logger: logger}
}

// Patch applies one operation to the file at path.
func (s *Service) Patch(path, search, content string, op Operation) (*Output, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("patch path must be absolute, got %q", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	before := string(raw)

	after, err := Apply(before, search, content, op)
	if err != nil {
		return nil, err
	}

	if _, err := s.snapshots.Insert(path); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	output := &Output{
		Before:      before,
		After:       after,
		ContentHash: ContentHash(after),
	}
	output.LinesAdded, output.LinesRemoved = LineDelta(before, after)

	if s.validator != nil {
		output.Errors = s.validator.ValidateFile(path, after)
		if len(output.Errors) > 0 {
			s.logger.Debug("patched file has syntax warnings", "path", path, "count", len(output.Errors))
		}
	}
	return output, nil
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// LineDelta counts lines present only in after (added) and only in before
// (removed), by multiset difference.
func LineDelta(before, after string) (added, removed int) {
	beforeCounts := map[string]int{}
	for _, l := range strings.Split(before, "\n") {
		beforeCounts[l]++
	}
	for _, l := range strings.Split(after, "\n") {
		if beforeCounts[l] > 0 {
			beforeCounts[l]--
		} else {
			added++
		}
	}
	for _, n := range beforeCounts {
		removed += n
	}
	return added, removed
}
