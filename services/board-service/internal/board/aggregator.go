// Package board is the read side of the status board: fixed columns with
// count/sum headers plus ordered cards, produced from a bounded number of
// queries regardless of range size.
package board

import (
	"context"
	"time"

	"github.com/mt-karim/shopboard/services/board-service/internal/model"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
)

type Query struct {
	From   time.Time
	To     time.Time
	TechID string
}

type Column struct {
	Status   model.Status `json:"status"`
	Count    int64        `json:"count"`
	SumCents int64        `json:"sum_cents"`
}

type Card struct {
	ID              string       `json:"id"`
	Status          model.Status `json:"status"`
	Position        int32        `json:"position"`
	CustomerSummary string       `json:"customer_summary"`
	VehicleSummary  string       `json:"vehicle_summary"`
	PriceCents      int64        `json:"price_cents"`
	Start           time.Time    `json:"start"`
	End             time.Time    `json:"end"`
}

type Board struct {
	Columns []Column `json:"columns"`
	Cards   []Card   `json:"cards"`
}

// Source is the two-query read path behind the aggregator.
type Source interface {
	BoardCards(ctx context.Context, q storage.BoardQuery) ([]storage.BoardCard, error)
	ColumnAggregates(ctx context.Context, q storage.BoardQuery) ([]storage.ColumnAggregate, error)
}

type Aggregator struct {
	source Source
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// GetBoard resolves with exactly two queries: one grouped aggregate, one
// pre-joined card list. Every board column is present even when empty, so
// clients render a fixed layout without special cases.
func (a *Aggregator) GetBoard(ctx context.Context, q Query) (Board, error) {
	sq := storage.BoardQuery{From: q.From, To: q.To, TechID: q.TechID}

	aggs, err := a.source.ColumnAggregates(ctx, sq)
	if err != nil {
		return Board{}, err
	}
	rows, err := a.source.BoardCards(ctx, sq)
	if err != nil {
		return Board{}, err
	}

	byStatus := map[model.Status]storage.ColumnAggregate{}
	for _, agg := range aggs {
		byStatus[agg.Status] = agg
	}

	columns := make([]Column, 0, len(model.BoardStatuses()))
	for _, st := range model.BoardStatuses() {
		agg := byStatus[st]
		columns = append(columns, Column{Status: st, Count: agg.Count, SumCents: agg.SumCents})
	}

	cards := make([]Card, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, Card{
			ID:              row.ID,
			Status:          row.Status,
			Position:        row.Position,
			CustomerSummary: row.CustomerSummary,
			VehicleSummary:  row.VehicleSummary,
			PriceCents:      row.PriceCents,
			Start:           row.StartTime,
			End:             row.EndTime,
		})
	}

	return Board{Columns: columns, Cards: cards}, nil
}
