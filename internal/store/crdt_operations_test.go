package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sirc/internal/model"
)

func sampleOperation(opID, docID, actorID string, seq uint64, ts int64) *model.Operation {
	return &model.Operation{
		OpID: opID, DocID: docID, Type: model.OpCreateNode, ActorID: actorID, Timestamp: ts, Sequence: seq,
		Data: map[string]interface{}{"title": "A"},
	}
}

func TestSaveOperation_RoundTripsThroughGetOperation(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveOperation(sampleOperation("u1@1@100", "p1", "u1", 1, 100)))

	op, err := s.GetOperation("u1@1@100")
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, model.OpCreateNode, op.Type)
	require.Equal(t, "p1", op.DocID)
	require.Equal(t, "A", op.Data["title"])
}

func TestGetOperation_MissingReturnsNilNoError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	defer s.Close()

	op, err := s.GetOperation("missing")
	require.NoError(t, err)
	require.Nil(t, op)
}

func TestGetOperationsSinceClock_ReturnsOnlyNewerSequencesWithinDoc(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveOperation(sampleOperation("u1@1@100", "p1", "u1", 1, 100)))
	require.NoError(t, s.SaveOperation(sampleOperation("u1@2@200", "p1", "u1", 2, 200)))
	require.NoError(t, s.SaveOperation(sampleOperation("u2@1@150", "p1", "u2", 1, 150)))
	require.NoError(t, s.SaveOperation(sampleOperation("u1@1@999", "p2", "u1", 1, 999)))

	ops, err := s.GetOperationsSinceClock("p1", map[string]uint64{"u1": 1})
	require.NoError(t, err)
	require.Len(t, ops, 2)

	var ids []string
	for _, op := range ops {
		ids = append(ids, op.OpID)
	}
	require.ElementsMatch(t, []string{"u1@2@200", "u2@1@150"}, ids)
}

func TestGetOperationHistory_FiltersByActorAndType(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveOperation(sampleOperation("u1@1@100", "p1", "u1", 1, 100)))
	op2 := sampleOperation("u2@1@150", "p1", "u2", 1, 150)
	op2.Type = model.OpUpdateNode
	require.NoError(t, s.SaveOperation(op2))

	ops, err := s.GetOperationHistory("p1", OperationFilters{ActorID: "u1"}, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "u1@1@100", ops[0].OpID)

	ops, err = s.GetOperationHistory("p1", OperationFilters{Type: model.OpUpdateNode}, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "u2@1@150", ops[0].OpID)
}
