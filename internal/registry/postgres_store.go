package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// DefinitionStore abstracts the declaration-table query for testability.
type DefinitionStore interface {
	ListDefinitions(ctx context.Context) ([]definitionRow, error)
}

type definitionRow struct {
	ToolName     string
	Description  sql.NullString
	Category     string
	InputSchema  string // JSONB as string
	OutputSchema sql.NullString
	Paged        bool
	MaxItems     int
}

// sqlDefinitionStore is the real implementation using *sql.DB.
type sqlDefinitionStore struct {
	db *sql.DB
}

func (s *sqlDefinitionStore) ListDefinitions(ctx context.Context) ([]definitionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, description, category, input_schema,
		       output_schema, paged, max_items
		FROM tool_definitions
		ORDER BY tool_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []definitionRow
	for rows.Next() {
		var r definitionRow
		if err := rows.Scan(
			&r.ToolName, &r.Description, &r.Category, &r.InputSchema,
			&r.OutputSchema, &r.Paged, &r.MaxItems,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadFromPostgres populates a registry from the tool_definitions table.
// The load happens once at startup; the registry stays read-only afterwards.
func LoadFromPostgres(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Registry, error) {
	return loadFromStore(ctx, &sqlDefinitionStore{db: db}, logger)
}

func loadFromStore(ctx context.Context, store DefinitionStore, logger *zap.Logger) (*Registry, error) {
	rows, err := store.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tool definitions: %w", err)
	}

	reg := New()
	for _, r := range rows {
		def, err := rowToDefinition(r)
		if err != nil {
			logger.Warn("skipping malformed tool definition",
				zap.String("tool_name", r.ToolName),
				zap.Error(err),
			)
			continue
		}
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}

	logger.Info("tool registry loaded from postgres",
		zap.Int("tool_count", len(reg.order)),
	)
	return reg, nil
}

func rowToDefinition(r definitionRow) (*ToolDefinition, error) {
	def := &ToolDefinition{
		Name:        r.ToolName,
		Description: r.Description.String,
		Category:    Category(r.Category),
		Paged:       r.Paged,
		MaxItems:    r.MaxItems,
	}
	if err := json.Unmarshal([]byte(r.InputSchema), &def.InputSchema); err != nil {
		return nil, fmt.Errorf("input_schema: %w", err)
	}
	if r.OutputSchema.Valid {
		if err := json.Unmarshal([]byte(r.OutputSchema.String), &def.OutputSchema); err != nil {
			return nil, fmt.Errorf("output_schema: %w", err)
		}
	}
	return def, nil
}
