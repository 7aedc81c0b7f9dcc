package provisioning

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-isolation/shared/apperrors"
	"github.com/pavitra93/go-tenant-isolation/shared/models"
)

func TestPostgresAllocatorCreateAndDrop(t *testing.T) {
	db, mock := newMockDB(t)
	alloc := NewPostgresAllocator(db)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "tenant_acme"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DROP DATABASE IF EXISTS "tenant_acme"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, alloc.Create(context.Background(), "tenant_acme"))
	require.NoError(t, alloc.Drop(context.Background(), "tenant_acme"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAllocatorRejectsOddLocators(t *testing.T) {
	db, mock := newMockDB(t)
	alloc := NewPostgresAllocator(db)

	for _, locator := range []string{"", "acme", `tenant_acme"; DROP DATABASE x; --`, "tenant_ACME"} {
		err := alloc.Create(context.Background(), locator)
		assert.ErrorIs(t, err, apperrors.ErrValidation, locator)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAllocatorCreateFailure(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`CREATE DATABASE`).WillReturnError(errors.New("permission denied"))

	err := NewPostgresAllocator(db).Create(context.Background(), "tenant_acme")
	assert.ErrorContains(t, err, "permission denied")
}

func TestInsertPrincipalsIsOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectCommit()

	principals := []models.Principal{
		{TenantOrg: "ACME", Name: ServiceAdminName, Email: ServiceAdminEmail, HashedPassword: "x", IsActive: true, IsAdmin: true},
		{TenantOrg: "ACME", Name: "Alice", Email: "alice@acme.example", HashedPassword: "y", IsActive: true, IsAdmin: true},
	}
	require.NoError(t, insertPrincipals(context.Background(), db, principals))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPrincipalsRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := insertPrincipals(context.Background(), db, []models.Principal{{Name: "Alice"}})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
