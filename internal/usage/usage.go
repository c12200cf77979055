// Package usage accounts the cumulative token spend of the completion
// service.
package usage

import (
	"context"
	"errors"
	"fmt"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/settings"
)

// Store persists the cumulative counter.
type Store interface {
	AddUsage(ctx context.Context, tokens int64, cost float64) error
	GetUsage(ctx context.Context) (domain.Usage, error)
}

type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("usage: store must not be nil")
	}
	return &Service{store: store}, nil
}

// Cost returns the USD price of tokens on model.
func Cost(model string, tokens int) float64 {
	return float64(tokens) / 1000 * settings.PricePer1K(model)
}

// Record adds tokens consumed on model to the counter.
func (s *Service) Record(ctx context.Context, model string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	if err := s.store.AddUsage(ctx, int64(tokens), Cost(model, tokens)); err != nil {
		return fmt.Errorf("usage: record: %w", err)
	}
	return nil
}

// Total returns the cumulative usage.
func (s *Service) Total(ctx context.Context) (domain.Usage, error) {
	u, err := s.store.GetUsage(ctx)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("usage: total: %w", err)
	}
	return u, nil
}
