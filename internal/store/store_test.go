package store

import (
	"errors"
	"testing"

	"github.com/chainforge/evm-indexer/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyNotNullViolationIsReorg(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "23502", Message: "null value in column \"hash\""}, 42)
	if !IsReorg(err) {
		t.Fatalf("expected IsReorg(err) to be true")
	}
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error")
	}
	if se.ReorgHeight != 42 {
		t.Fatalf("ReorgHeight=%d want 42", se.ReorgHeight)
	}
}

func TestClassifyUniqueViolationIsConflictNotReorg(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "23505", Message: "duplicate key"}, 0)
	if IsReorg(err) {
		t.Fatalf("unique violation must not classify as reorg")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != Conflict {
		t.Fatalf("expected Kind=Conflict")
	}
}

func TestClassifyOtherError(t *testing.T) {
	err := classify(errors.New("connection refused"), 0)
	var se *Error
	if !errors.As(err, &se) || se.Kind != Other {
		t.Fatalf("expected Kind=Other")
	}
	if IsReorg(err) {
		t.Fatalf("generic error must not classify as reorg")
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if classify(nil, 0) != nil {
		t.Fatalf("classify(nil) should return nil")
	}
}

func TestChunkBlocksRespectsMaxSize(t *testing.T) {
	blocks := make([]models.Block, 2500)
	for i := range blocks {
		blocks[i].Number = uint64(i)
	}
	chunks := chunkBlocks(blocks, 1000)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks)=%d want 3", len(chunks))
	}
	if len(chunks[0]) != 1000 || len(chunks[1]) != 1000 || len(chunks[2]) != 500 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkBlocksEmpty(t *testing.T) {
	if chunks := chunkBlocks(nil, 1000); chunks != nil {
		t.Fatalf("expected nil chunks for empty input, got %v", chunks)
	}
}
