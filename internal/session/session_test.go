package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
)

type recorder struct {
	successes []string
	errors    []string
}

func (r *recorder) Success(msg string) notify.ID {
	r.successes = append(r.successes, msg)
	return notify.ID{}
}

func (r *recorder) Error(msg string) notify.ID {
	r.errors = append(r.errors, msg)
	return notify.ID{}
}

type saverFunc func(ctx context.Context, fileName string, t model.DecisionTable) (backend.Reply, error)

func (f saverFunc) SaveTable(ctx context.Context, fileName string, t model.DecisionTable) (backend.Reply, error) {
	return f(ctx, fileName, t)
}

func okSaver() Saver {
	return saverFunc(func(context.Context, string, model.DecisionTable) (backend.Reply, error) {
		return backend.Reply{Message: "Saved successfully"}, nil
	})
}

func threeColumns() model.DecisionTable {
	return model.DecisionTable{
		ColumnLabels:   []string{"Name", "CONDITION_1", "ACTION_1"},
		TemplateLabels: []string{"", "age > $param", "discount($param)"},
		Rows: []model.Row{
			{Name: "adult", Values: []model.Cell{model.Text("18"), model.Text("10")}},
		},
	}
}

func loaded(t *testing.T) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(rec, nil)
	require.NoError(t, s.Load("pricing.xlsx", threeColumns()))
	return s, rec
}

func TestLoadIsClean(t *testing.T) {
	s, _ := loaded(t)
	assert.False(t, s.Dirty())
	assert.False(t, s.Publishable())
	assert.True(t, s.Working().Equal(s.Snapshot()))
}

func TestLoadCopiesInput(t *testing.T) {
	rec := &recorder{}
	s := New(rec, nil)
	src := threeColumns()
	require.NoError(t, s.Load("a.xlsx", src))
	src.Rows[0].Values[0] = model.Text("99")
	assert.Equal(t, "18", s.Working().Rows[0].Values[0].String())
}

func TestAddRowFillsNulls(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.AddRow())
	w := s.Working()
	require.Len(t, w.Rows, 2)
	assert.Equal(t, "", w.Rows[1].Name)
	require.Len(t, w.Rows[1].Values, 2)
	assert.True(t, w.Rows[1].Values[0].IsNull())
	assert.True(t, s.Dirty())
}

func TestDeleteRowOutOfRangeIsNoop(t *testing.T) {
	s, _ := loaded(t)
	assert.False(t, s.DeleteRow(5))
	assert.False(t, s.DeleteRow(-1))
	assert.False(t, s.Dirty())

	assert.True(t, s.DeleteRow(0))
	assert.True(t, s.Dirty())
	assert.Empty(t, s.Working().Rows)
}

func TestEditCellRoutesNameAndValues(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.EditCell(0, 0, model.Text("senior")))
	require.NoError(t, s.EditCell(0, 2, model.Text("15")))
	w := s.Working()
	assert.Equal(t, "senior", w.Rows[0].Name)
	assert.Equal(t, "15", w.Rows[0].Values[1].String())
	assert.True(t, s.Dirty())

	err := s.EditCell(0, 3, model.Text("x"))
	assert.True(t, errors.Is(err, ErrOutOfRange))
	err = s.EditCell(4, 1, model.Text("x"))
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestWorkingAndSnapshotNeverAlias(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.EditCell(0, 1, model.Text("21")))
	assert.Equal(t, "18", s.Snapshot().Rows[0].Values[0].String())

	w := s.Working()
	w.Rows[0].Name = "changed outside"
	assert.Equal(t, "adult", s.Working().Rows[0].Name)
}

func TestRowLengthInvariantUnderRandomMutations(t *testing.T) {
	s, _ := loaded(t)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := len(s.Working().Rows)
		switch rng.Intn(3) {
		case 0:
			require.NoError(t, s.AddRow())
		case 1:
			s.DeleteRow(rng.Intn(n + 2))
		case 2:
			if n > 0 {
				_ = s.EditCell(rng.Intn(n), rng.Intn(3), model.Text("v"))
			}
		}
		w := s.Working()
		for _, r := range w.Rows {
			require.Len(t, r.Values, len(w.ColumnLabels)-1)
		}
	}
}

func TestDiscardRestoresSnapshotIdempotently(t *testing.T) {
	s, rec := loaded(t)
	require.NoError(t, s.AddRow())
	require.NoError(t, s.EditCell(0, 1, model.Text("x")))
	s.DeleteRow(0)

	s.Discard()
	assert.True(t, s.Working().Equal(s.Snapshot()))
	assert.False(t, s.Dirty())
	first := s.Working()

	s.Discard()
	assert.True(t, s.Working().Equal(first))
	assert.Empty(t, rec.errors)
}

func TestSaveSuccessMakesPublishable(t *testing.T) {
	s, rec := loaded(t)
	require.NoError(t, s.AddRow())
	require.NoError(t, s.EditCell(1, 1, model.Text("x")))

	require.NoError(t, s.Save(context.Background(), okSaver()))
	assert.False(t, s.Dirty())
	assert.True(t, s.Publishable())
	assert.True(t, s.Working().Equal(s.Snapshot()))
	assert.Equal(t, []string{"Saved pricing.xlsx"}, rec.successes)
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	s, rec := loaded(t)
	require.NoError(t, s.EditCell(0, 1, model.Text("x")))
	before := s.Snapshot()

	failing := saverFunc(func(context.Context, string, model.DecisionTable) (backend.Reply, error) {
		return backend.Reply{}, &backend.Error{Op: "save table", Status: 500, Detail: "Save failed: disk full"}
	})
	require.Error(t, s.Save(context.Background(), failing))

	assert.True(t, s.Dirty())
	assert.False(t, s.Publishable())
	assert.True(t, s.Snapshot().Equal(before))
	assert.Equal(t, "x", s.Working().Rows[0].Values[0].String())
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "Save failed: disk full")
}

func TestSaveFailureKeepsPublishable(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.Save(context.Background(), okSaver()))
	require.True(t, s.Publishable())

	p, err := s.BeginSave()
	require.NoError(t, err)
	s.FinishSave(p, backend.Reply{}, errors.New("timeout"))
	assert.True(t, s.Publishable())
	assert.False(t, s.Dirty())
}

func TestDiscardRevokesPublishable(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.Save(context.Background(), okSaver()))
	require.True(t, s.Publishable())
	s.Discard()
	assert.False(t, s.Publishable())
}

func TestConsumePublish(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.Save(context.Background(), okSaver()))
	s.ConsumePublish()
	assert.False(t, s.Publishable())
}

func TestEditsDuringSaveStayDirty(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.EditCell(0, 1, model.Text("a")))
	p, err := s.BeginSave()
	require.NoError(t, err)

	require.NoError(t, s.EditCell(0, 1, model.Text("b")))
	s.FinishSave(p, backend.Reply{}, nil)

	assert.True(t, s.Dirty())
	assert.False(t, s.Publishable())
	assert.Equal(t, "a", s.Snapshot().Rows[0].Values[0].String())
	assert.Equal(t, "b", s.Working().Rows[0].Values[0].String())
}

func TestLoadRejectedWhileSameTableSaving(t *testing.T) {
	s, _ := loaded(t)
	p, err := s.BeginSave()
	require.NoError(t, err)

	assert.ErrorIs(t, s.Load("pricing.xlsx", threeColumns()), ErrSaveInFlight)
	_, err = s.BeginSave()
	assert.ErrorIs(t, err, ErrSaveInFlight)

	s.FinishSave(p, backend.Reply{}, nil)
	assert.NoError(t, s.Load("pricing.xlsx", threeColumns()))
}

func TestLoadOfOtherFileSupersedesSave(t *testing.T) {
	s, rec := loaded(t)
	require.NoError(t, s.EditCell(0, 1, model.Text("a")))
	p, err := s.BeginSave()
	require.NoError(t, err)

	other := threeColumns()
	other.Rows[0].Name = "other"
	require.NoError(t, s.Load("other.xlsx", other))
	s.FinishSave(p, backend.Reply{}, nil)

	assert.Equal(t, "other.xlsx", s.FileName())
	assert.Equal(t, "other", s.Snapshot().Rows[0].Name)
	assert.False(t, s.Publishable())
	assert.Equal(t, []string{"Saved pricing.xlsx"}, rec.successes)
	assert.False(t, s.Saving())
}

func TestReturningToSavingFileIsRejected(t *testing.T) {
	s, _ := loaded(t)
	require.NoError(t, s.AddRow())
	p, err := s.BeginSave()
	require.NoError(t, err)

	require.NoError(t, s.Load("other.xlsx", threeColumns()))
	assert.ErrorIs(t, s.Load("pricing.xlsx", threeColumns()), ErrSaveInFlight)
	assert.Equal(t, "other.xlsx", s.FileName())
	assert.True(t, s.Saving())

	s.FinishSave(p, backend.Reply{}, nil)
	assert.NoError(t, s.Load("pricing.xlsx", threeColumns()))
}

func TestLoadLeavesCallerTableAlone(t *testing.T) {
	in := threeColumns()
	in.Rows[0].Values = []model.Cell{model.Text("18")} // ragged
	s := New(&recorder{}, nil)
	require.NoError(t, s.Load("pricing.xlsx", in))

	assert.Len(t, in.Rows[0].Values, 1)
	assert.Len(t, s.Working().Rows[0].Values, 2)
}

func TestMutationsWithoutTable(t *testing.T) {
	s := New(&recorder{}, nil)
	assert.ErrorIs(t, s.AddRow(), ErrNoTable)
	assert.False(t, s.DeleteRow(0))
	assert.ErrorIs(t, s.EditCell(0, 0, model.Text("x")), ErrNoTable)
	_, err := s.BeginSave()
	assert.ErrorIs(t, err, ErrNoTable)
}
