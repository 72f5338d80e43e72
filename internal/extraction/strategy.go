package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/rs/zerolog"
)

// ErrAllStrategiesFailed is returned when no strategy produced transactions.
var ErrAllStrategiesFailed = errors.New("all extraction strategies failed")

// Strategy is one way of turning statement text into transactions.
// A nil error with an empty slice is treated as a failure by the chain.
type Strategy interface {
	Method() domain.Method
	Attempt(ctx context.Context, text string) ([]domain.RawTransaction, error)
}

// runChain tries each strategy in order and stops at the first that
// returns at least one transaction.
func runChain(ctx context.Context, log zerolog.Logger, text string, strategies []Strategy) ([]domain.RawTransaction, domain.Method, error) {
	var failures []string
	for _, s := range strategies {
		txs, err := s.Attempt(ctx, text)
		if err == nil && len(txs) > 0 {
			return txs, s.Method(), nil
		}
		if err == nil {
			err = errors.New("no transactions")
		}
		log.Info().Err(err).Str("strategy", string(s.Method())).Msg("Extraction strategy failed, trying next")
		failures = append(failures, fmt.Sprintf("%s: %v", s.Method(), err))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, domain.MethodFailed, fmt.Errorf("%w: %s", ErrAllStrategiesFailed, strings.Join(failures, "; "))
}
