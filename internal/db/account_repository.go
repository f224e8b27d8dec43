package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mordorwide/plasma/internal/model"
)

// AccountRepository persists accounts in PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, email, password_hashed, lobby_key, is_staff, is_superuser, is_verified,
	created_at, last_login, force_client_turn, force_server_turn, name_mod_ping_site,
	optin_global, optin_thirdparty, parental_email, birthdate, zipcode, country, language,
	accepted_tos, entitlement_key`

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHashed, &a.LobbyKey, &a.IsStaff, &a.IsSuperuser, &a.IsVerified,
		&a.CreatedAt, &a.LastLogin, &a.ForceClientTURN, &a.ForceServerTURN, &a.NameModPingSite,
		&a.OptinGlobal, &a.OptinThirdParty, &a.ParentalEmail, &a.Birthdate, &a.Zipcode, &a.Country,
		&a.Language, &a.AcceptedTos, &a.EntitlementKey,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// FindByEmail returns the account with the given (normalized) email.
// Returns nil, nil when no such account exists.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("querying account %q: %w", email, err)
	}
	return a, nil
}

// FindByID returns the account with the given id, or nil, nil.
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("querying account %d: %w", id, err)
	}
	return a, nil
}

// FindByLobbyKey returns the account holding the lobby key, or nil, nil.
// The matchmaking service identifies clients by it.
func (r *AccountRepository) FindByLobbyKey(ctx context.Context, lobbyKey string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lobby_key = $1`, lobbyKey)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("querying account by lobby key: %w", err)
	}
	return a, nil
}

// Create inserts a new account and returns its id.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (email, password_hashed, lobby_key, optin_global, optin_thirdparty,
			parental_email, birthdate, zipcode, country, language, accepted_tos, entitlement_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		a.Email, a.PasswordHashed, a.LobbyKey, a.OptinGlobal, a.OptinThirdParty,
		a.ParentalEmail, a.Birthdate, a.Zipcode, a.Country, a.Language, a.AcceptedTos, a.EntitlementKey,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating account %q: %w", a.Email, err)
	}
	return id, nil
}

// UpdateLastLogin stamps the account's last successful login.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_login = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("updating last login for account %d: %w", id, err)
	}
	return nil
}

// SetAcceptedTos records the terms-of-service version the account agreed to.
func (r *AccountRepository) SetAcceptedTos(ctx context.Context, id int64, version string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET accepted_tos = $1 WHERE id = $2`, version, id)
	if err != nil {
		return fmt.Errorf("updating accepted tos for account %d: %w", id, err)
	}
	return nil
}

// SetEntitlementKey binds a game key to the account.
func (r *AccountRepository) SetEntitlementKey(ctx context.Context, id int64, key string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET entitlement_key = $1 WHERE id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("updating entitlement key for account %d: %w", id, err)
	}
	return nil
}

// CountByEntitlementKey counts accounts already bound to a game key.
func (r *AccountRepository) CountByEntitlementKey(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM accounts WHERE entitlement_key = $1`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting accounts with entitlement key: %w", err)
	}
	return n, nil
}
