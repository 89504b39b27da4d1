// logs.go — request-log append and usage aggregation.
package store

import (
	"context"
	"fmt"
)

// CreateRequestLog appends one accounting row. total_tokens is derived from
// the prompt and completion counts here so every reader sees a consistent sum.
func (s *Store) CreateRequestLog(ctx context.Context, l *RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs
			(user_id, api_key_id, endpoint, method, status_code, duration_ms,
			 prompt_tokens, completion_tokens, total_tokens, model, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.UserID, l.APIKeyID, l.Endpoint, l.Method, l.StatusCode, l.DurationMS,
		l.PromptTokens, l.CompletionTokens, l.PromptTokens+l.CompletionTokens,
		l.Model, l.Error)
	if err != nil {
		return fmt.Errorf("create request log: %w", err)
	}
	return nil
}

// UsageStats aggregates request counts and token sums per calendar date over
// the last days days, optionally filtered to one user. Rows come back newest
// date first.
func (s *Store) UsageStats(ctx context.Context, userID string, days int) ([]*UsageStat, error) {
	query := `
		SELECT DATE(timestamp)::text,
		       COUNT(id),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0)
		FROM request_logs
		WHERE timestamp >= now() - ($1 || ' days')::interval`
	args := []any{fmt.Sprintf("%d", days)}

	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	query += ` GROUP BY DATE(timestamp) ORDER BY DATE(timestamp) DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	defer rows.Close()

	var stats []*UsageStat
	for rows.Next() {
		var st UsageStat
		if err := rows.Scan(&st.Date, &st.Requests, &st.TotalTokens,
			&st.PromptTokens, &st.CompletionTokens); err != nil {
			return nil, fmt.Errorf("usage stats: %w", err)
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

// CountRequestLogs returns the number of log rows for a user.
func (s *Store) CountRequestLogs(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_logs WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return n, nil
}
