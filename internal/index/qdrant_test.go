package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

func records(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			ID:       uuid.NewString(),
			Content:  fmt.Sprintf("chunk %d", i),
			Source:   "biology",
			Position: i,
			Vector:   []float32{1, 0, 0},
		}
	}
	return recs
}

func TestUpsertBatches_SplitsAtBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 4, sizes: nil},
		{name: "under one batch", n: 3, size: 4, sizes: []int{3}},
		{name: "exact multiple", n: 8, size: 4, sizes: []int{4, 4}},
		{name: "remainder", n: 600, size: 256, sizes: []int{256, 256, 88}},
		{name: "default size", n: DefaultQdrantBatchSize + 1, size: 0, sizes: []int{DefaultQdrantBatchSize, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sizes []int
			var positions []int64
			err := upsertBatches(context.Background(), records(tt.n), tt.size, func(_ context.Context, points []*qdrant.PointStruct) error {
				sizes = append(sizes, len(points))
				for _, p := range points {
					positions = append(positions, p.GetPayload()["position"].GetIntegerValue())
				}
				return nil
			})
			if err != nil {
				t.Fatalf("upsertBatches: %v", err)
			}
			if !slices.Equal(sizes, tt.sizes) {
				t.Errorf("batch sizes: want %v, got %v", tt.sizes, sizes)
			}
			for i, pos := range positions {
				if pos != int64(i) {
					t.Fatalf("point %d carries position %d", i, pos)
				}
			}
		})
	}
}

func TestUpsertBatches_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	errTooLarge := errors.New("payload too large")
	calls := 0
	err := upsertBatches(context.Background(), records(10), 4, func(context.Context, []*qdrant.PointStruct) error {
		calls++
		if calls == 2 {
			return errTooLarge
		}
		return nil
	})
	if !errors.Is(err, errTooLarge) {
		t.Fatalf("want wrapped upsert error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("want 2 upsert calls, got %d", calls)
	}
}
