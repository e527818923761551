package repository

import (
	"context"

	"streamwatch/internal/domain"
)

// UserRepository persists user accounts. Lookups that find nothing return
// domain.ErrUserNotFound; Create reports a taken username as
// domain.ErrUserExists.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}
