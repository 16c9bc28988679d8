package pg

import (
	"context"
	"time"

	"authforge.dev/internal/identity"
	"authforge.dev/internal/store"
	"authforge.dev/internal/token"
)

// Refresh token ledger ------------------------------------------------

type refreshTokenStore struct {
	q querier
	// forUpdate locks looked-up rows inside a transaction so that two
	// rotations presenting the same token serialize: exactly one
	// succeeds, the other observes revoked_at.
	forUpdate bool
}

const refreshColumns = `id, identity_kind, identity_id, tenant_id, token_hash, expires_at,
	created_at, revoked_at, replaced_by_hash, ip, user_agent`

func (s *refreshTokenStore) Create(ctx context.Context, rec *token.RefreshRecord) error {
	_, err := s.q.ExecContext(ctx,
		`insert into refresh_tokens(id, identity_kind, identity_id, tenant_id, token_hash,
		 expires_at, created_at, revoked_at, replaced_by_hash, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, string(rec.IdentityKind), rec.IdentityID, rec.TenantID, rec.TokenHash,
		rec.ExpiresAt, rec.CreatedAt, rec.RevokedAt, rec.ReplacedByHash, rec.IP, rec.UserAgent,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, hash string) (*token.RefreshRecord, error) {
	query := `select ` + refreshColumns + ` from refresh_tokens where token_hash=$1`
	if s.forUpdate {
		query += ` for update`
	}
	row := s.q.QueryRowContext(ctx, query, hash)

	var (
		rec  token.RefreshRecord
		kind string
	)
	err := row.Scan(
		&rec.ID, &kind, &rec.IdentityID, &rec.TenantID, &rec.TokenHash,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.RevokedAt, &rec.ReplacedByHash,
		&rec.IP, &rec.UserAgent,
	)
	if err != nil {
		return nil, mapFindErr(err)
	}
	rec.IdentityKind = identity.Kind(kind)
	return &rec, nil
}

func (s *refreshTokenStore) Update(ctx context.Context, rec *token.RefreshRecord) error {
	_, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2, replaced_by_hash=$3 where id=$1`,
		rec.ID, rec.RevokedAt, rec.ReplacedByHash,
	)
	return err
}

func (s *refreshTokenStore) RevokeAllForIdentity(ctx context.Context, kind identity.Kind, identityID string, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$3
		 where identity_kind=$1 and identity_id=$2 and revoked_at is null`,
		string(kind), identityID, at,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) RevokeAllForTenant(ctx context.Context, tenantID string, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2
		 where tenant_id=$1 and revoked_at is null`,
		tenantID, at,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	// Expired-but-unrevoked rows are just as eligible: a live request
	// racing the delete simply also sees the token as expired.
	res, err := s.q.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Password reset token ledger -----------------------------------------

type resetTokenStore struct {
	q         querier
	forUpdate bool
}

const resetColumns = `id, identity_kind, identity_id, token_hash, expires_at, used, used_at, created_at`

func (s *resetTokenStore) Replace(ctx context.Context, rec *token.ResetRecord) error {
	// At most one outstanding unused token per identity: replacing, not
	// appending, bounds the live-token count.
	if _, err := s.q.ExecContext(ctx,
		`delete from reset_tokens where identity_kind=$1 and identity_id=$2 and used=false`,
		string(rec.IdentityKind), rec.IdentityID,
	); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`insert into reset_tokens(id, identity_kind, identity_id, token_hash, expires_at,
		 used, used_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, string(rec.IdentityKind), rec.IdentityID, rec.TokenHash, rec.ExpiresAt,
		rec.Used, rec.UsedAt, rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *resetTokenStore) FindByHash(ctx context.Context, hash string) (*token.ResetRecord, error) {
	query := `select ` + resetColumns + ` from reset_tokens where token_hash=$1`
	if s.forUpdate {
		query += ` for update`
	}
	row := s.q.QueryRowContext(ctx, query, hash)

	var (
		rec  token.ResetRecord
		kind string
	)
	err := row.Scan(
		&rec.ID, &kind, &rec.IdentityID, &rec.TokenHash, &rec.ExpiresAt,
		&rec.Used, &rec.UsedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, mapFindErr(err)
	}
	rec.IdentityKind = identity.Kind(kind)
	return &rec, nil
}

func (s *resetTokenStore) Update(ctx context.Context, rec *token.ResetRecord) error {
	_, err := s.q.ExecContext(ctx,
		`update reset_tokens set used=$2, used_at=$3 where id=$1`,
		rec.ID, rec.Used, rec.UsedAt,
	)
	return err
}

func (s *resetTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`delete from reset_tokens where expires_at < $1 or used=true`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
