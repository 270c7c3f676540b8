package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cartzy_auth/internal/models"
)

func (r *GormRepo) findOne(ctx context.Context, q *gorm.DB) (*models.User, error) {
	var user models.User
	if err := q.WithContext(ctx).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, r.DB.Where("email = ?", email))
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, r.DB.Where("user_name = ?", username))
}

func (r *GormRepo) FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	return r.findOne(ctx, r.DB.Where("email = ? OR user_name = ?", email, username))
}

// FindByID loads a user; when fields are given only those columns are read.
func (r *GormRepo) FindByID(ctx context.Context, id uuid.UUID, fields ...string) (*models.User, error) {
	q := r.DB.Where("id = ?", id)
	if len(fields) > 0 {
		q = q.Select(fields)
	}
	return r.findOne(ctx, q)
}

func (r *GormRepo) Create(ctx context.Context, u *models.User) error {
	return translate(r.DB.WithContext(ctx).Create(u).Error)
}

func (r *GormRepo) UpdateByID(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapRefreshToken replaces the stored refresh digest only if it still equals
// expected. It reports whether the swap happened.
func (r *GormRepo) SwapRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", id, expected).
		Update(models.ColRefreshToken, next)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RevokeRefreshToken clears the stored refresh digest only if it still equals
// digest. A rotated-out token revokes nothing.
func (r *GormRepo) RevokeRefreshToken(ctx context.Context, id uuid.UUID, digest string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", id, digest).
		Update(models.ColRefreshToken, nil)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ConsumeResetToken sets a new password hash and clears the reset fields and the
// refresh token, only if digest is still the stored reset token.
func (r *GormRepo) ConsumeResetToken(ctx context.Context, id uuid.UUID, digest, passwordHash string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND reset_token = ?", id, digest).
		Updates(map[string]any{
			models.ColPasswordHash:        passwordHash,
			models.ColResetToken:          nil,
			models.ColResetTokenExpiresAt: nil,
			models.ColRefreshToken:        nil,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// List returns one page of users ordered by creation time, and the total count.
func (r *GormRepo) List(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var users []models.User
	err := r.DB.WithContext(ctx).
		Order("created_at ASC").Order("id ASC").
		Offset(offset).Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return users, total, nil
}
