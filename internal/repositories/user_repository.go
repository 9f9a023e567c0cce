package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"groupchat-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrBadCode      = errors.New("verification code mismatch")
)

// UserRepository abstracts account persistence.
type UserRepository interface {
	Create(ctx context.Context, username, email, passwordHash string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByID(ctx context.Context, userID int) (models.User, error)
	SetVerificationCode(ctx context.Context, userID int, code string) error
	VerifyByCode(ctx context.Context, username, code string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create persists a new account.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)
         RETURNING id, username, email, password_hash, verified, created_at`,
		username, email, passwordHash).
		StructScan(&user)
	return user, err
}

// FindByUsername fetches an account by username.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, password_hash, verified, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// FindByID fetches an account by id.
func (r *UserRepo) FindByID(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, email, password_hash, verified, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetVerificationCode stores the emailed verification code.
func (r *UserRepo) SetVerificationCode(ctx context.Context, userID int, code string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET verification_code=$2 WHERE id=$1`, userID, code)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyByCode flags the account verified when the code matches.
func (r *UserRepo) VerifyByCode(ctx context.Context, username, code string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET verified = TRUE WHERE username=$1 AND verification_code=$2 AND verification_code <> ''`,
		username, code)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrBadCode
	}
	return nil
}
