package roster_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schooltrack/internal/model"
	"schooltrack/internal/roster"
	"schooltrack/internal/store/memstore"
)

func TestCreateStudent(t *testing.T) {
	ctx := context.Background()
	svc := roster.NewService(memstore.New())

	email := "  Camille.Durand@Example.FR "
	s, err := svc.CreateStudent(ctx, " Camille ", "Durand  ", &email)
	require.NoError(t, err)
	assert.Equal(t, "Camille", s.FirstName)
	assert.Equal(t, "Durand", s.LastName)
	require.NotNil(t, s.Email)
	assert.Equal(t, "camille.durand@example.fr", *s.Email)

	got, err := svc.GetStudent(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	blank := "   "
	s, err = svc.CreateStudent(ctx, "Noé", "Roux", &blank)
	require.NoError(t, err)
	assert.Nil(t, s.Email)
}

func TestCreateStudentRequiresNames(t *testing.T) {
	svc := roster.NewService(memstore.New())
	_, err := svc.CreateStudent(context.Background(), "  ", "Durand", nil)
	assert.ErrorIs(t, err, roster.ErrInvalid)
	_, err = svc.CreateStudent(context.Background(), "Camille", "", nil)
	assert.ErrorIs(t, err, roster.ErrInvalid)
}

func TestListStudentsSortedByName(t *testing.T) {
	ctx := context.Background()
	svc := roster.NewService(memstore.New())
	for _, n := range [][2]string{{"Zoé", "Blanc"}, {"Adam", "Moreau"}, {"Anna", "Blanc"}} {
		_, err := svc.CreateStudent(ctx, n[0], n[1], nil)
		require.NoError(t, err)
	}
	list, err := svc.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Anna", list[0].FirstName)
	assert.Equal(t, "Zoé", list[1].FirstName)
	assert.Equal(t, "Moreau", list[2].LastName)
}

func TestCreateClassUniqueName(t *testing.T) {
	ctx := context.Background()
	svc := roster.NewService(memstore.New())

	year := "2025-2026"
	c, err := svc.CreateClass(ctx, " 4C ", &year)
	require.NoError(t, err)
	assert.Equal(t, "4C", c.Name)

	_, err = svc.CreateClass(ctx, "4C", nil)
	uv, ok := model.AsUniqueViolation(err)
	require.True(t, ok)
	assert.Equal(t, model.ConstraintClassName, uv.Constraint)

	_, err = svc.CreateClass(ctx, "", nil)
	assert.ErrorIs(t, err, roster.ErrInvalid)

	classes, err := svc.ListClasses(ctx)
	require.NoError(t, err)
	assert.Len(t, classes, 1)
}

func TestEnrollStudents(t *testing.T) {
	ctx := context.Background()
	svc := roster.NewService(memstore.New())
	c, err := svc.CreateClass(ctx, "3A", nil)
	require.NoError(t, err)
	a, err := svc.CreateStudent(ctx, "Léa", "Girard", nil)
	require.NoError(t, err)
	b, err := svc.CreateStudent(ctx, "Tom", "Faure", nil)
	require.NoError(t, err)

	n, err := svc.EnrollStudents(ctx, c.ID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Re-enrolling is ignored.
	n, err = svc.EnrollStudents(ctx, c.ID, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnrollStudentsErrors(t *testing.T) {
	ctx := context.Background()
	svc := roster.NewService(memstore.New())
	c, err := svc.CreateClass(ctx, "3A", nil)
	require.NoError(t, err)

	_, err = svc.EnrollStudents(ctx, c.ID, nil)
	assert.ErrorIs(t, err, roster.ErrInvalid)

	_, err = svc.EnrollStudents(ctx, uuid.New(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = svc.EnrollStudents(ctx, c.ID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, model.ErrNotFound)
}
