package pg

import (
	"context"
	"time"

	"authforge.dev/internal/identity"
	"authforge.dev/internal/store"
)

// End user store ------------------------------------------------------

type endUserStore struct {
	q querier
	// forUpdate locks looked-up rows inside a transaction so concurrent
	// login attempts against the same identity serialize on the row.
	forUpdate bool
}

const endUserColumns = `id, tenant_id, email, password_hash, first_name, last_name,
	email_verified, verification_token, verification_expires_at, failed_login_attempts,
	locked_out_until, active, last_login_at, created_at, updated_at`

func (s *endUserStore) Create(ctx context.Context, u *identity.EndUser) error {
	_, err := s.q.ExecContext(ctx,
		`insert into end_users(id, tenant_id, email, password_hash, first_name, last_name,
		 email_verified, verification_token, verification_expires_at, failed_login_attempts,
		 locked_out_until, active, last_login_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		u.ID, u.TenantID, u.Email.String(), u.PasswordHash, u.FirstName, u.LastName,
		u.EmailVerified, u.VerificationToken, u.VerificationExpiresAt, u.FailedLoginAttempts,
		u.LockedOutUntil, u.Active, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *endUserStore) Find(ctx context.Context, id string) (*identity.EndUser, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+endUserColumns+` from end_users where id=$1`+lockClause(s.forUpdate), id)
	return scanEndUser(row)
}

func (s *endUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*identity.EndUser, error) {
	row := s.q.QueryRowContext(ctx,
		`select `+endUserColumns+` from end_users where tenant_id=$1 and email=$2`+lockClause(s.forUpdate), tenantID, email)
	return scanEndUser(row)
}

func (s *endUserStore) Update(ctx context.Context, u *identity.EndUser) error {
	_, err := s.q.ExecContext(ctx,
		`update end_users set password_hash=$2, first_name=$3, last_name=$4, email_verified=$5,
		 verification_token=$6, verification_expires_at=$7, failed_login_attempts=$8,
		 locked_out_until=$9, active=$10, last_login_at=$11, updated_at=now()
		 where id=$1`,
		u.ID, u.PasswordHash, u.FirstName, u.LastName, u.EmailVerified,
		u.VerificationToken, u.VerificationExpiresAt, u.FailedLoginAttempts,
		u.LockedOutUntil, u.Active, u.LastLoginAt,
	)
	return err
}

func (s *endUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from end_users where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanEndUser(row rowScanner) (*identity.EndUser, error) {
	var (
		u     identity.EndUser
		email string
	)
	err := row.Scan(
		&u.ID, &u.TenantID, &email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.EmailVerified, &u.VerificationToken, &u.VerificationExpiresAt,
		&u.FailedLoginAttempts, &u.LockedOutUntil, &u.Active, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapFindErr(err)
	}
	u.Email = identity.EmailFromStorage(email)
	return &u, nil
}

// Platform identity stores --------------------------------------------
//
// Developers and admins share one schema shape; both stores delegate to
// the same row helpers and differ only in table name and aggregate type.

const platformColumns = `id, email, password_hash, email_verified, verification_token,
	verification_expires_at, failed_login_attempts, locked_out_until, active,
	last_login_at, created_at, updated_at`

type platformRow struct {
	id        string
	email     string
	cred      identity.Credential
	createdAt time.Time
	updatedAt time.Time
}

func insertPlatformIdentity(ctx context.Context, q querier, table, id, email string, cred *identity.Credential, createdAt, updatedAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`insert into `+table+`(id, email, password_hash, email_verified, verification_token,
		 verification_expires_at, failed_login_attempts, locked_out_until, active,
		 last_login_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, email, cred.PasswordHash, cred.EmailVerified, cred.VerificationToken,
		cred.VerificationExpiresAt, cred.FailedLoginAttempts, cred.LockedOutUntil,
		cred.Active, cred.LastLoginAt, createdAt, updatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func updatePlatformIdentity(ctx context.Context, q querier, table, id string, cred *identity.Credential) error {
	_, err := q.ExecContext(ctx,
		`update `+table+` set password_hash=$2, email_verified=$3, verification_token=$4,
		 verification_expires_at=$5, failed_login_attempts=$6, locked_out_until=$7,
		 active=$8, last_login_at=$9, updated_at=now()
		 where id=$1`,
		id, cred.PasswordHash, cred.EmailVerified, cred.VerificationToken,
		cred.VerificationExpiresAt, cred.FailedLoginAttempts, cred.LockedOutUntil,
		cred.Active, cred.LastLoginAt,
	)
	return err
}

func findPlatformIdentity(ctx context.Context, q querier, table, where string, forUpdate bool, arg any) (*platformRow, error) {
	row := q.QueryRowContext(ctx,
		`select `+platformColumns+` from `+table+` where `+where+lockClause(forUpdate), arg)
	var r platformRow
	err := row.Scan(
		&r.id, &r.email, &r.cred.PasswordHash, &r.cred.EmailVerified,
		&r.cred.VerificationToken, &r.cred.VerificationExpiresAt,
		&r.cred.FailedLoginAttempts, &r.cred.LockedOutUntil, &r.cred.Active,
		&r.cred.LastLoginAt, &r.createdAt, &r.updatedAt,
	)
	if err != nil {
		return nil, mapFindErr(err)
	}
	return &r, nil
}

type developerStore struct {
	q         querier
	forUpdate bool
}

func (s *developerStore) Create(ctx context.Context, d *identity.Developer) error {
	return insertPlatformIdentity(ctx, s.q, "developers", d.ID, d.Email.String(), &d.Credential, d.CreatedAt, d.UpdatedAt)
}

func (s *developerStore) Find(ctx context.Context, id string) (*identity.Developer, error) {
	r, err := findPlatformIdentity(ctx, s.q, "developers", "id=$1", s.forUpdate, id)
	if err != nil {
		return nil, err
	}
	return developerFromRow(r), nil
}

func (s *developerStore) FindByEmail(ctx context.Context, email string) (*identity.Developer, error) {
	r, err := findPlatformIdentity(ctx, s.q, "developers", "email=$1", s.forUpdate, email)
	if err != nil {
		return nil, err
	}
	return developerFromRow(r), nil
}

func (s *developerStore) Update(ctx context.Context, d *identity.Developer) error {
	return updatePlatformIdentity(ctx, s.q, "developers", d.ID, &d.Credential)
}

func developerFromRow(r *platformRow) *identity.Developer {
	d := &identity.Developer{
		ID:        r.id,
		Email:     identity.EmailFromStorage(r.email),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	d.Credential = r.cred
	return d
}

type adminStore struct {
	q         querier
	forUpdate bool
}

func (s *adminStore) Create(ctx context.Context, a *identity.Admin) error {
	return insertPlatformIdentity(ctx, s.q, "admins", a.ID, a.Email.String(), &a.Credential, a.CreatedAt, a.UpdatedAt)
}

func (s *adminStore) Find(ctx context.Context, id string) (*identity.Admin, error) {
	r, err := findPlatformIdentity(ctx, s.q, "admins", "id=$1", s.forUpdate, id)
	if err != nil {
		return nil, err
	}
	return adminFromRow(r), nil
}

func (s *adminStore) FindByEmail(ctx context.Context, email string) (*identity.Admin, error) {
	r, err := findPlatformIdentity(ctx, s.q, "admins", "email=$1", s.forUpdate, email)
	if err != nil {
		return nil, err
	}
	return adminFromRow(r), nil
}

func (s *adminStore) Update(ctx context.Context, a *identity.Admin) error {
	return updatePlatformIdentity(ctx, s.q, "admins", a.ID, &a.Credential)
}

func (s *adminStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `select count(*) from admins`).Scan(&n)
	return n, err
}

func adminFromRow(r *platformRow) *identity.Admin {
	a := &identity.Admin{
		ID:        r.id,
		Email:     identity.EmailFromStorage(r.email),
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
	a.Credential = r.cred
	return a
}
