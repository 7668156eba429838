package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/tools"
)

// SetToolCredential encrypts value under the Coordinator's master key
// and upserts the (userID, toolName, backend) row, per SPEC_FULL.md §3's
// ToolCredential.
func (c *Coordinator) SetToolCredential(ctx context.Context, userID uuid.UUID, toolName, backend, value string) error {
	if c.masterKey == nil {
		return fmt.Errorf("coordinator has no master key configured")
	}
	ciphertext, nonce, err := c.masterKey.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt tool credential: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tool_credentials (user_id, tool_name, backend, value_encrypted, value_nonce)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, tool_name, backend)
		DO UPDATE SET value_encrypted = EXCLUDED.value_encrypted, value_nonce = EXCLUDED.value_nonce, updated_at = now()
	`, userID, toolName, backend, ciphertext, nonce)
	if err != nil {
		return fmt.Errorf("upsert tool credential: %w", err)
	}
	return nil
}

// DeleteToolCredential removes a stored credential, if any.
func (c *Coordinator) DeleteToolCredential(ctx context.Context, userID uuid.UUID, toolName, backend string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM tool_credentials WHERE user_id = $1 AND tool_name = $2 AND backend = $3`, userID, toolName, backend)
	if err != nil {
		return fmt.Errorf("delete tool credential: %w", err)
	}
	return nil
}

func (c *Coordinator) getToolCredential(ctx context.Context, userID uuid.UUID, toolName, backend string) (string, bool, error) {
	if c.masterKey == nil {
		return "", false, fmt.Errorf("coordinator has no master key configured")
	}
	var ciphertext, nonce []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT value_encrypted, value_nonce FROM tool_credentials
		WHERE user_id = $1 AND tool_name = $2 AND backend = $3
	`, userID, toolName, backend).Scan(&ciphertext, &nonce)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get tool credential: %w", err)
	}
	plaintext, err := c.masterKey.Decrypt(ciphertext, nonce)
	if err != nil {
		return "", false, fmt.Errorf("decrypt tool credential: %w", err)
	}
	return string(plaintext), true, nil
}

// CredentialResolver adapts the Coordinator into internal/tools'
// CredentialResolver function type for web_search's pluggable backends.
func (c *Coordinator) CredentialResolver() tools.CredentialResolver {
	return func(ctx context.Context, userID, toolName, backend string) (string, bool, error) {
		id, err := uuid.Parse(userID)
		if err != nil {
			return "", false, fmt.Errorf("credential resolver: invalid user id %q: %w", userID, err)
		}
		return c.getToolCredential(ctx, id, toolName, backend)
	}
}

// CredentialChecker adapts the Coordinator into internal/tools'
// CredentialChecker function type for GET /v1/tools' tool_api_key_status.
// Credential-free tools/backends are never looked up here — the registry
// only calls this for Definitions with a non-empty RequiresCredential.
// The registry's CredentialChecker signature carries only a tool name,
// not a specific backend, so this reports whether the user has stored a
// credential for ANY backend of toolName — a request still resolves the
// exact backend (and its own credential) at execution time through
// CredentialResolver.
func (c *Coordinator) CredentialChecker() tools.CredentialChecker {
	return func(ctx context.Context, userID, toolName string) (tools.CredentialStatus, error) {
		id, err := uuid.Parse(userID)
		if err != nil {
			return tools.CredentialStatus{}, fmt.Errorf("credential checker: invalid user id %q: %w", userID, err)
		}
		var exists bool
		err = c.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM tool_credentials WHERE user_id = $1 AND tool_name = $2)
		`, id, toolName).Scan(&exists)
		if err != nil {
			return tools.CredentialStatus{}, fmt.Errorf("check tool credential: %w", err)
		}
		return tools.CredentialStatus{HasAPIKey: exists, RequiresAPIKey: true, MissingKeyLabel: toolName + "_api_key"}, nil
	}
}
