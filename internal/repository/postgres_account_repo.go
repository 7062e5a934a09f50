package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/accountcore/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const usernameIndex = "idx_accounts_username"

const accountColumns = `id, email, username, display_name, avatar_url, password_hash,
	provider, provider_id, email_verified, status, last_login_at, deleted_at,
	created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// GetByEmail は正規化済みメールアドレスでアカウントを取得する。論理削除済みも返す。
func (r *PostgresAccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	account, err := r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// GetByProviderID は外部IdPのIDでアカウントを取得する。論理削除済みは除く。
func (r *PostgresAccountRepo) GetByProviderID(ctx context.Context, provider, providerID string) (*model.Account, error) {
	account, err := r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE provider = $1 AND provider_id = $2 AND deleted_at IS NULL`,
		provider, providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
	}
	return account, nil
}

// GetByProviderIDIncludingDeleted は論理削除済みも含めて外部IdPのIDで取得する。
func (r *PostgresAccountRepo) GetByProviderIDIncludingDeleted(ctx context.Context, provider, providerID string) (*model.Account, error) {
	account, err := r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by provider ID: %w", err)
	}
	return account, nil
}

// GetByID は指定IDのアカウントを取得する。論理削除済みは除く。
func (r *PostgresAccountRepo) GetByID(ctx context.Context, id string) (*model.Account, error) {
	account, err := r.queryOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// Add はアカウントを作成する。IDとタイムスタンプが空の場合はDB側の既定値を使う。
func (r *PostgresAccountRepo) Add(ctx context.Context, account *model.Account) error {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	if account.Status == "" {
		account.Status = model.AccountStatusActive
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, email, username, display_name, avatar_url, password_hash,
		   provider, provider_id, email_verified, status, last_login_at, deleted_at,
		   created_at, updated_at)
		 VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6,
		   $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		account.ID, account.Email, account.Username, account.DisplayName,
		nullString(account.AvatarURL), nullString(account.PasswordHash),
		nullString(account.Provider), nullString(account.ProviderID),
		account.EmailVerified, string(account.Status), account.LastLoginAt, account.DeletedAt,
		account.CreatedAt, account.UpdatedAt,
	).Scan(&account.ID)
	if dupErr := translateUniqueViolation(err); dupErr != nil {
		return dupErr
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Update はアカウントを更新する。updated_atは現在時刻に更新される。
func (r *PostgresAccountRepo) Update(ctx context.Context, account *model.Account) error {
	account.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
		   email = $2, username = $3, display_name = $4, avatar_url = $5, password_hash = $6,
		   provider = $7, provider_id = $8, email_verified = $9, status = $10,
		   last_login_at = $11, deleted_at = $12, updated_at = $13
		 WHERE id = $1`,
		account.ID, account.Email, account.Username, account.DisplayName,
		nullString(account.AvatarURL), nullString(account.PasswordHash),
		nullString(account.Provider), nullString(account.ProviderID),
		account.EmailVerified, string(account.Status), account.LastLoginAt, account.DeletedAt,
		account.UpdatedAt,
	)
	if dupErr := translateUniqueViolation(err); dupErr != nil {
		return dupErr
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", account.ID)
	}
	return nil
}

func (r *PostgresAccountRepo) queryOne(ctx context.Context, query string, args ...interface{}) (*model.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		account                                       model.Account
		avatarURL, passwordHash, provider, providerID sql.NullString
		status                                        string
		lastLoginAt, deletedAt                        sql.NullTime
	)
	err := row.Scan(
		&account.ID, &account.Email, &account.Username, &account.DisplayName,
		&avatarURL, &passwordHash, &provider, &providerID,
		&account.EmailVerified, &status, &lastLoginAt, &deletedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.AvatarURL = avatarURL.String
	account.PasswordHash = passwordHash.String
	account.Provider = provider.String
	account.ProviderID = providerID.String
	account.Status = model.AccountStatus(status)
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		account.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		account.DeletedAt = &t
	}
	return &account, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// translateUniqueViolation は一意制約違反をドメインエラーに変換する。
// 一意制約違反でなければnilを返す。
func translateUniqueViolation(err error) error {
	if !isUniqueViolation(err) {
		return nil
	}
	var pqErr *pq.Error
	errors.As(err, &pqErr)
	if pqErr.Constraint == usernameIndex {
		return ErrUsernameTaken
	}
	return model.ErrAccountAlreadyExists
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
