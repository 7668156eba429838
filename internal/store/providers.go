package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/apierr"
	"github.com/chatforge/backend/internal/model"
)

// CreateProvider encrypts apiKey under the Coordinator's master key and
// inserts a new provider row. If isDefault is true, any existing default
// for userID is cleared first, preserving the "at most one default per
// user" invariant the partial unique index also enforces.
func (c *Coordinator) CreateProvider(ctx context.Context, userID uuid.UUID, providerType model.ProviderType, baseURL, apiKey string, extraHeaders map[string]string, isDefault bool) (*model.Provider, error) {
	if c.masterKey == nil {
		return nil, fmt.Errorf("coordinator has no master key configured")
	}
	ciphertext, nonce, err := c.masterKey.Encrypt([]byte(apiKey))
	if err != nil {
		return nil, fmt.Errorf("encrypt provider api key: %w", err)
	}
	if extraHeaders == nil {
		extraHeaders = map[string]string{}
	}
	headersJSON, err := json.Marshal(extraHeaders)
	if err != nil {
		return nil, fmt.Errorf("marshal extra headers: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if isDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE providers SET is_default = false WHERE owner_user_id = $1 AND is_default`, userID); err != nil {
			return nil, fmt.Errorf("clear previous default: %w", err)
		}
	}

	p := &model.Provider{
		ID:              uuid.New(),
		OwnerUserID:     userID,
		Type:            providerType,
		BaseURL:         baseURL,
		APIKeyEncrypted: ciphertext,
		APIKeyNonce:     nonce,
		Enabled:         true,
		IsDefault:       isDefault,
		ExtraHeaders:    extraHeaders,
		Metadata:        map[string]interface{}{},
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO providers (id, owner_user_id, type, base_url, api_key_encrypted, api_key_nonce, enabled, is_default, extra_headers, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}')
	`, p.ID, p.OwnerUserID, p.Type, p.BaseURL, p.APIKeyEncrypted, p.APIKeyNonce, p.Enabled, p.IsDefault, headersJSON); err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit provider insert: %w", err)
	}
	return p, nil
}

func scanProvider(row interface {
	Scan(dest ...interface{}) error
}) (*model.Provider, error) {
	var p model.Provider
	var headersJSON, metadataJSON []byte
	if err := row.Scan(&p.ID, &p.OwnerUserID, &p.Type, &p.BaseURL, &p.APIKeyEncrypted, &p.APIKeyNonce, &p.Enabled, &p.IsDefault, &headersJSON, &metadataJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(headersJSON, &p.ExtraHeaders)
	_ = json.Unmarshal(metadataJSON, &p.Metadata)
	return &p, nil
}

const providerColumns = `id, owner_user_id, type, base_url, api_key_encrypted, api_key_nonce, enabled, is_default, extra_headers, metadata, created_at, updated_at`

// GetProvider reads a provider row scoped to userID.
func (c *Coordinator) GetProvider(ctx context.Context, id, userID uuid.UUID) (*model.Provider, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1 AND owner_user_id = $2`, id, userID)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, apierr.Newf(apierr.KindNotFound, "provider %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, nil
}

// DefaultProvider returns userID's default provider, if one is set.
func (c *Coordinator) DefaultProvider(ctx context.Context, userID uuid.UUID) (*model.Provider, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE owner_user_id = $1 AND is_default AND enabled`, userID)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.KindNotFound, "no default provider configured")
	}
	if err != nil {
		return nil, fmt.Errorf("get default provider: %w", err)
	}
	return p, nil
}

// ListProviders returns every provider row owned by userID.
func (c *Coordinator) ListProviders(ctx context.Context, userID uuid.UUID) ([]model.Provider, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE owner_user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeleteProvider removes a provider row owned by userID.
func (c *Coordinator) DeleteProvider(ctx context.Context, id, userID uuid.UUID) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM providers WHERE id = $1 AND owner_user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apierr.Newf(apierr.KindNotFound, "provider %s not found", id)
	}
	return nil
}
