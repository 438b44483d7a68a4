package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mt-karim/shopboard/services/board-service/internal/model"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
)

type fakeSource struct {
	cards []storage.BoardCard
	aggs  []storage.ColumnAggregate
	err   error

	cardQueries int
	aggQueries  int
}

func (f *fakeSource) BoardCards(context.Context, storage.BoardQuery) ([]storage.BoardCard, error) {
	f.cardQueries++
	return f.cards, f.err
}

func (f *fakeSource) ColumnAggregates(context.Context, storage.BoardQuery) ([]storage.ColumnAggregate, error) {
	f.aggQueries++
	return f.aggs, f.err
}

func testQuery() Query {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return Query{From: from, To: from.Add(24 * time.Hour)}
}

func TestGetBoard_AllColumnsPresentEvenWhenEmpty(t *testing.T) {
	src := &fakeSource{
		aggs: []storage.ColumnAggregate{
			{Status: model.StatusScheduled, Count: 2, SumCents: 30000},
		},
	}
	b, err := NewAggregator(src).GetBoard(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}

	if len(b.Columns) != 5 {
		t.Fatalf("expected fixed 5 columns, got %d", len(b.Columns))
	}
	want := []model.Status{
		model.StatusScheduled, model.StatusInProgress, model.StatusReady,
		model.StatusCompleted, model.StatusNoShow,
	}
	for i, st := range want {
		if b.Columns[i].Status != st {
			t.Fatalf("column %d: expected %s, got %s", i, st, b.Columns[i].Status)
		}
	}
	if b.Columns[0].Count != 2 || b.Columns[0].SumCents != 30000 {
		t.Fatalf("scheduled column wrong: %+v", b.Columns[0])
	}
	for _, col := range b.Columns[1:] {
		if col.Count != 0 || col.SumCents != 0 {
			t.Fatalf("empty column should be zeroed: %+v", col)
		}
	}
	if b.Cards == nil {
		t.Fatal("cards should be an empty slice, not nil")
	}
}

func TestGetBoard_CountAndSumReconcile(t *testing.T) {
	src := &fakeSource{
		aggs: []storage.ColumnAggregate{
			{Status: model.StatusScheduled, Count: 2, SumCents: 20000},
			{Status: model.StatusInProgress, Count: 1, SumCents: 15000},
			{Status: model.StatusCompleted, Count: 3, SumCents: 42000},
		},
		cards: []storage.BoardCard{
			{ID: "a1", Status: model.StatusScheduled, PriceCents: 8000},
			{ID: "a2", Status: model.StatusScheduled, PriceCents: 12000},
			{ID: "a3", Status: model.StatusInProgress, PriceCents: 15000},
			{ID: "a4", Status: model.StatusCompleted, PriceCents: 14000},
			{ID: "a5", Status: model.StatusCompleted, PriceCents: 14000},
			{ID: "a6", Status: model.StatusCompleted, PriceCents: 14000},
		},
	}
	b, err := NewAggregator(src).GetBoard(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}

	var totalCount, totalSum int64
	for _, col := range b.Columns {
		totalCount += col.Count
		totalSum += col.SumCents
	}
	if totalCount != int64(len(b.Cards)) {
		t.Fatalf("column counts (%d) should reconcile with cards (%d)", totalCount, len(b.Cards))
	}
	var cardSum int64
	for _, c := range b.Cards {
		cardSum += c.PriceCents
	}
	if totalSum != cardSum {
		t.Fatalf("column sums (%d) should reconcile with card prices (%d)", totalSum, cardSum)
	}
}

func TestGetBoard_ExactlyTwoQueries(t *testing.T) {
	src := &fakeSource{}
	if _, err := NewAggregator(src).GetBoard(context.Background(), testQuery()); err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}
	if src.aggQueries != 1 || src.cardQueries != 1 {
		t.Fatalf("expected 1 aggregate + 1 card query, got %d/%d", src.aggQueries, src.cardQueries)
	}
}

func TestGetBoard_SourceErrorSurfaces(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	if _, err := NewAggregator(src).GetBoard(context.Background(), testQuery()); err == nil {
		t.Fatal("expected error from source")
	}
}
