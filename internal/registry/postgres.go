package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

// ErrVersionExists is returned when publishing over an existing name@version
var ErrVersionExists = errors.New("template version already exists")

// PostgresRegistry stores versioned templates in narrator.prompt_templates
// ⭐ SSOT: 버전은 추가만 가능 (덮어쓰기 금지)
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresRegistry creates a Postgres-backed registry
func NewPostgresRegistry(pool *pgxpool.Pool, log *logger.Logger) *PostgresRegistry {
	return &PostgresRegistry{pool: pool, logger: log}
}

// Get implements contracts.TemplateRegistry. version "" returns the latest.
func (r *PostgresRegistry) Get(ctx context.Context, name, version string) (*contracts.PromptTemplate, error) {
	if version == "" {
		versions, err := r.Versions(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w: %s", contracts.ErrTemplateNotFound, name)
		}
		version = Latest(versions)
	}

	query := `
		SELECT body, specs
		FROM narrator.prompt_templates
		WHERE name = $1 AND version = $2
	`

	tpl := &contracts.PromptTemplate{Name: name, Version: version}
	var specsJSON []byte

	err := r.pool.QueryRow(ctx, query, name, version).Scan(&tpl.Text, &specsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", contracts.ErrTemplateNotFound, name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := json.Unmarshal(specsJSON, &tpl.Placeholders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal placeholders: %w", err)
	}

	return tpl, nil
}

// Versions lists stored versions of name
func (r *PostgresRegistry) Versions(ctx context.Context, name string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM narrator.prompt_templates WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan versions: %w", err)
	}
	return versions, nil
}

// Publish stores a new template version after validating it
func (r *PostgresRegistry) Publish(ctx context.Context, tpl *contracts.PromptTemplate) error {
	if err := Check(tpl); err != nil {
		return err
	}

	specsJSON, err := json.Marshal(tpl.Placeholders)
	if err != nil {
		return fmt.Errorf("failed to marshal placeholders: %w", err)
	}

	query := `
		INSERT INTO narrator.prompt_templates (name, version, body, specs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, version) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, tpl.Name, tpl.Version, tpl.Text, specsJSON)
	if err != nil {
		return fmt.Errorf("failed to publish template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrVersionExists, tpl.ID())
	}

	r.logger.WithField("template", tpl.ID()).Info("Published template")
	return nil
}

// Sync publishes every template of src that is not stored yet. Existing versions are
// left untouched.
func (r *PostgresRegistry) Sync(ctx context.Context, src *FileRegistry) (int, error) {
	published := 0
	for _, tpl := range src.All() {
		err := r.Publish(ctx, tpl)
		if errors.Is(err, ErrVersionExists) {
			continue
		}
		if err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
