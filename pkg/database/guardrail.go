package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredColumns lists table.column pairs the application cannot run
// without. Missing entries mean the database was not migrated.
var requiredColumns = map[string][]string{
	"users":                  {"user_id", "email", "created_at"},
	"auth_sessions":          {"auth_session_id", "user_id", "token_hash", "expires_at", "revoked_at"},
	"devices":                {"device_id", "user_id", "telegram_endpoint_id", "telegram_chat_id"},
	"sessions":               {"session_id", "device_id", "user_id", "status", "analysis_prompt"},
	"events":                 {"event_id", "session_id", "user_id", "status", "clip_blob_name", "clip_uploaded_at", "should_notify", "alert_reason"},
	"telegram_link_attempts": {"attempt_id", "device_id", "token_hash", "status", "expires_at"},
	"notification_endpoints": {"endpoint_id", "provider", "chat_id", "linked_at"},
}

// CheckSchema verifies the required columns exist and refuses startup when
// any are missing, rather than failing later on arbitrary queries.
func CheckSchema(ctx context.Context, pool *pgxpool.Pool) error {
	var missing []string
	for table, columns := range requiredColumns {
		for _, column := range columns {
			var exists bool
			err := pool.QueryRow(ctx,
				`SELECT EXISTS (
					SELECT 1 FROM information_schema.columns
					WHERE table_name = $1 AND column_name = $2
				)`, table, column,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("schema guardrail query failed: %w", err)
			}
			if !exists {
				missing = append(missing, table+"."+column)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema guardrail failed, missing columns: %s (run migrations)",
			strings.Join(missing, ", "))
	}
	return nil
}
