package repository

import (
	"context"
	"errors"
	"time"

	"hls-offline/internal/domain"
)

// ErrUserExists is returned when a username is already taken.
var ErrUserExists = errors.New("user already exists")

// UserRepository stores API operators.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}
