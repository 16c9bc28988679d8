package pg

import (
	"context"
	"encoding/json"

	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
)

// applicationStore reads never lock. Token rotation resolves the owning
// application inside its transaction; a row lock here would serialize
// every rotation of a tenant on one row.
type applicationStore struct{ q querier }

const applicationColumns = `id, name, slug, public_key, secret_key_enc, jwt_secret_enc,
	allowed_origins, max_failed_attempts, lockout_minutes, access_token_ttl_minutes,
	refresh_token_ttl_days, smtp_host, smtp_port, smtp_user, smtp_password_enc,
	from_address, active, created_at, updated_at`

func (s *applicationStore) Create(ctx context.Context, app *tenant.Application) error {
	origins, _ := json.Marshal(app.AllowedOrigins)
	_, err := s.q.ExecContext(ctx,
		`insert into applications(id, name, slug, public_key, secret_key_enc, jwt_secret_enc,
		 allowed_origins, max_failed_attempts, lockout_minutes, access_token_ttl_minutes,
		 refresh_token_ttl_days, smtp_host, smtp_port, smtp_user, smtp_password_enc,
		 from_address, active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		app.ID, app.Name, app.Slug, app.PublicKey, app.SecretKeyEnc, app.JWTSecretEnc,
		origins, app.Settings.MaxFailedAttempts, app.Settings.LockoutMinutes,
		app.Settings.AccessTokenTTLMinutes, app.Settings.RefreshTokenTTLDays,
		app.Email.SMTPHost, app.Email.SMTPPort, app.Email.SMTPUser, app.Email.SMTPPasswordEnc,
		app.Email.FromAddress, app.Active, app.CreatedAt, app.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *applicationStore) Find(ctx context.Context, id string) (*tenant.Application, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+applicationColumns+` from applications where id=$1`, id)
	return scanApplication(row)
}

func (s *applicationStore) FindBySlug(ctx context.Context, slug string) (*tenant.Application, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+applicationColumns+` from applications where slug=$1`, slug)
	return scanApplication(row)
}

func (s *applicationStore) Update(ctx context.Context, app *tenant.Application) error {
	origins, _ := json.Marshal(app.AllowedOrigins)
	_, err := s.q.ExecContext(ctx,
		`update applications set name=$2, public_key=$3, secret_key_enc=$4, jwt_secret_enc=$5,
		 allowed_origins=$6, max_failed_attempts=$7, lockout_minutes=$8,
		 access_token_ttl_minutes=$9, refresh_token_ttl_days=$10, smtp_host=$11, smtp_port=$12,
		 smtp_user=$13, smtp_password_enc=$14, from_address=$15, active=$16, updated_at=now()
		 where id=$1`,
		app.ID, app.Name, app.PublicKey, app.SecretKeyEnc, app.JWTSecretEnc,
		origins, app.Settings.MaxFailedAttempts, app.Settings.LockoutMinutes,
		app.Settings.AccessTokenTTLMinutes, app.Settings.RefreshTokenTTLDays,
		app.Email.SMTPHost, app.Email.SMTPPort, app.Email.SMTPUser, app.Email.SMTPPasswordEnc,
		app.Email.FromAddress, app.Active,
	)
	return err
}

func (s *applicationStore) List(ctx context.Context) ([]*tenant.Application, error) {
	rows, err := s.q.QueryContext(ctx,
		`select `+applicationColumns+` from applications order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*tenant.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, app)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*tenant.Application, error) {
	var (
		app     tenant.Application
		origins []byte
	)
	err := row.Scan(
		&app.ID, &app.Name, &app.Slug, &app.PublicKey, &app.SecretKeyEnc, &app.JWTSecretEnc,
		&origins, &app.Settings.MaxFailedAttempts, &app.Settings.LockoutMinutes,
		&app.Settings.AccessTokenTTLMinutes, &app.Settings.RefreshTokenTTLDays,
		&app.Email.SMTPHost, &app.Email.SMTPPort, &app.Email.SMTPUser, &app.Email.SMTPPasswordEnc,
		&app.Email.FromAddress, &app.Active, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, mapFindErr(err)
	}
	_ = json.Unmarshal(origins, &app.AllowedOrigins)
	return &app, nil
}
