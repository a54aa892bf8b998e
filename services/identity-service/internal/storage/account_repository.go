package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/servihub/servihub/libs/db"
)

// Account is a marketplace login. ProviderID is set only for provider
// accounts and rides along in issued tokens.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	ProviderID   string
}

type AccountRepository struct {
	pool *db.Pool
}

func NewAccountRepository(pool *db.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) CreateTx(ctx context.Context, tx pgx.Tx, a Account) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, role, provider_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, a.ID, a.Email, a.PasswordHash, a.Role, a.ProviderID)
	return err
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, COALESCE(provider_id::text, '')
		FROM accounts
		WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.ProviderID)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, COALESCE(provider_id::text, '')
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.ProviderID)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}
