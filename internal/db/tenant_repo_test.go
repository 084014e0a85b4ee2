package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/types"
)

func TestTenantRepository_GetSettings_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	primary := "owner@example.com"
	mockRowResult := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "ten_1"
			*dest[1].(**string) = &primary
			*dest[2].(*[]string) = []string{"ops@example.com", "cleaning@example.com"}
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRowResult)

	settings, err := repo.GetSettings(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "ten_1", settings.TenantID)
	assert.Equal(t, "owner@example.com", settings.PrimaryEmail)
	assert.Equal(t, []string{"ops@example.com", "cleaning@example.com"}, settings.AdditionalEmails)
	db.AssertExpectations(t)
}

func TestTenantRepository_GetSettings_NullPrimaryEmail(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	mockRowResult := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "ten_2"
			*dest[1].(**string) = nil
			*dest[2].(*[]string) = []string{"ops@example.com"}
			return nil
		},
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRowResult)

	settings, err := repo.GetSettings(ctx, "ten_2")
	require.NoError(t, err)
	assert.Empty(t, settings.PrimaryEmail)
	assert.Equal(t, []string{"ops@example.com"}, settings.AdditionalEmails,
		"additional addresses survive a null primary")
	db.AssertExpectations(t)
}

func TestTenantRepository_GetSettings_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	mockRowResult := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRowResult)

	_, err := repo.GetSettings(ctx, "ten_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundTenant, appErr.Code)
	db.AssertExpectations(t)
}

func TestTenantRepository_GetSettings_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	mockRowResult := &mockRow{scanErr: errors.New("connection refused")}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(mockRowResult)

	_, err := repo.GetSettings(ctx, "ten_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

func TestTenantRepository_UpsertSettings_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTenantRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			sql := args.Get(1).(string)
			assert.Contains(t, sql, "ON CONFLICT (tenant_id)")
		}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.UpsertSettings(ctx, &types.TenantSettings{
		TenantID:         "ten_1",
		PrimaryEmail:     "owner@example.com",
		AdditionalEmails: []string{"ops@example.com"},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}
