package observe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-narrator/internal/contracts"
	"github.com/wonny/aegis-narrator/pkg/logger"
	"github.com/wonny/aegis-narrator/pkg/redis"
)

// LogSink writes events to the structured log
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a log sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e contracts.Event) error {
	fields := map[string]interface{}{
		"request_id":  e.RequestID,
		"stage":       string(e.Stage),
		"config_hash": e.ConfigHash,
	}
	if e.Symbol != "" {
		fields["symbol"] = e.Symbol
	}
	if e.Template != "" {
		fields["template"] = e.Template + "@" + e.TemplateVersion
	}
	for k, v := range e.Attrs {
		fields[k] = v
	}
	s.logger.WithFields(fields).Debug("Pipeline event")
	return nil
}

// RedisStreamSink appends events to a Redis stream for downstream consumers
type RedisStreamSink struct {
	publisher *redis.StreamPublisher
}

// NewRedisStreamSink creates a stream sink
func NewRedisStreamSink(publisher *redis.StreamPublisher) *RedisStreamSink {
	return &RedisStreamSink{publisher: publisher}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Write(ctx context.Context, e contracts.Event) error {
	return s.publisher.Publish(ctx, string(e.Stage), e)
}

// PostgresSink stores events in narrator.quality_events so quality can be compared
// across template versions and config hashes
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a Postgres sink
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, e contracts.Event) error {
	attrsJSON, err := json.Marshal(e.Attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attrs: %w", err)
	}
	if e.Attrs == nil {
		attrsJSON = []byte("{}")
	}

	query := `
		INSERT INTO narrator.quality_events (
			request_id, stage, template_name, template_version, config_hash, attrs, emitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		e.RequestID, string(e.Stage), e.Template, e.TemplateVersion, e.ConfigHash, attrsJSON, e.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// QualitySummary aggregates released-report quality for one template version and config
type QualitySummary struct {
	Template        string  `json:"template"`
	TemplateVersion string  `json:"template_version"`
	ConfigHash      string  `json:"config_hash"`
	Outcomes        int     `json:"outcomes"`
	Released        int     `json:"released"`
	AvgComposite    float64 `json:"avg_composite"`
}

// Summaries compares outcomes across template versions and config hashes
func (s *PostgresSink) Summaries(ctx context.Context, template string) ([]QualitySummary, error) {
	query := `
		SELECT template_name, template_version, config_hash,
			COUNT(*),
			COUNT(*) FILTER (WHERE attrs->>'outcome' = 'released'),
			COALESCE(AVG((attrs->>'composite')::float8) FILTER (WHERE attrs->>'composite' IS NOT NULL), 0)
		FROM narrator.quality_events
		WHERE stage = $1 AND template_name = $2
		GROUP BY template_name, template_version, config_hash
		ORDER BY template_version, config_hash
	`

	rows, err := s.pool.Query(ctx, query, string(contracts.StageOutcome), template)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []QualitySummary
	for rows.Next() {
		var q QualitySummary
		if err := rows.Scan(&q.Template, &q.TemplateVersion, &q.ConfigHash, &q.Outcomes, &q.Released, &q.AvgComposite); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
