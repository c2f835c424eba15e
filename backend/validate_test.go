package backend

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSnapshot(t *testing.T) {
	valid := NewTask("ok")
	dup := NewCategory("dup")

	tests := []struct {
		name    string
		snap    *Snapshot
		wantErr string
	}{
		{
			name: "valid",
			snap: &Snapshot{Tasks: []Task{valid}, Categories: []Category{NewCategory("Work")}},
		},
		{
			name:    "nil snapshot",
			snap:    nil,
			wantErr: "snapshot is empty",
		},
		{
			name:    "missing name",
			snap:    &Snapshot{Tasks: []Task{{ID: uuid.New(), Color: DefaultColor}}},
			wantErr: "Name",
		},
		{
			name:    "bad color",
			snap:    &Snapshot{Tasks: []Task{{ID: uuid.New(), Name: "x", Color: "purple"}}},
			wantErr: "hexcolor",
		},
		{
			name:    "duplicate task id",
			snap:    &Snapshot{Tasks: []Task{valid, valid}},
			wantErr: "duplicate task id",
		},
		{
			name:    "duplicate category id",
			snap:    &Snapshot{Categories: []Category{dup, dup}},
			wantErr: "duplicate category id",
		},
		{
			name:    "nil tombstone",
			snap:    &Snapshot{DeletedTaskIDs: []uuid.UUID{uuid.Nil}},
			wantErr: "deleted task list contains the nil id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSnapshot(tt.snap)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSnapshotListsEveryProblem(t *testing.T) {
	err := ValidateSnapshot(&Snapshot{
		Tasks:              []Task{{ID: uuid.New(), Color: "nope"}},
		DeletedCategoryIDs: []uuid.UUID{uuid.Nil},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Problems), 3)
	assert.Contains(t, err.Error(), "problems")
}

func TestValidateImport(t *testing.T) {
	longName := NewTask(strings.Repeat("a", TaskNameMaxLength+1))
	longDesc := NewTask("desc")
	longDesc.Description = strings.Repeat("d", DescriptionMaxLength+1)
	longCategory := NewCategory(strings.Repeat("c", CategoryNameMaxLength+1))
	accented := NewTask(strings.Repeat("é", TaskNameMaxLength))

	assert.NoError(t, ValidateImport([]Task{NewTask("fine"), accented}, []Category{NewCategory("Trip")}))

	err := ValidateImport([]Task{longName, longDesc}, []Category{longCategory})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}

func TestValidateColor(t *testing.T) {
	assert.NoError(t, ValidateColor("#b624ff"))
	assert.NoError(t, ValidateColor("#FFF"))
	assert.Error(t, ValidateColor("b624ff"))
	assert.Error(t, ValidateColor(""))
}
