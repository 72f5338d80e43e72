package extraction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/rs/zerolog"
)

// ErrNoValidTransactions means the model answered but no row survived validation.
var ErrNoValidTransactions = errors.New("no valid transactions in model response")

// learnedStrategy replays a stored procedure. It never calls the model.
type learnedStrategy struct {
	format *formats.LearnedFormat
}

func (l *learnedStrategy) Method() domain.Method { return domain.MethodLearned }

func (l *learnedStrategy) Attempt(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	if l.format == nil || l.format.Procedure == nil {
		return nil, errors.New("learned format has no procedure")
	}
	return l.format.Procedure.Execute(ctx, text)
}

// assistedStrategy sends the statement text to the model.
type assistedStrategy struct {
	completer     completion.Completer
	maxChars      int
	acceptedYears []int
	bankName      string
	log           zerolog.Logger
}

func (a *assistedStrategy) Method() domain.Method { return domain.MethodAssisted }

func (a *assistedStrategy) Attempt(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	if r := []rune(text); len(r) > a.maxChars {
		text = string(r[:a.maxChars])
	}

	raw, err := a.completer.Complete(ctx, completion.Request{
		Prompt: statementPrompt(a.bankName, a.acceptedYears) + "\nStatement text:\n" + text,
	})
	if err != nil {
		return nil, fmt.Errorf("assisted: model call: %w", err)
	}
	return decodeTransactions(raw, a.acceptedYears, a.log)
}

// decodeTransactions turns a model answer into transactions. Rows that fail
// validation or fall outside acceptedYears (when set) are dropped and logged.
func decodeTransactions(raw string, acceptedYears []int, log zerolog.Logger) ([]domain.RawTransaction, error) {
	items, err := completion.DecodeArray(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawTransaction, 0, len(items))
	var invalid, outOfRange int
	for i, obj := range items {
		tx, err := transactionFromMap(obj)
		if err != nil {
			invalid++
			log.Debug().Err(err).Int("index", i).Msg("Dropping invalid transaction from model response")
			continue
		}
		if !yearAccepted(tx.Date.Year, acceptedYears) {
			outOfRange++
			continue
		}
		out = append(out, tx)
	}

	if invalid > 0 || outOfRange > 0 {
		log.Warn().
			Int("invalid", invalid).
			Int("out_of_range", outOfRange).
			Int("kept", len(out)).
			Msg("Model response contained rejected transactions")
	}
	if len(out) == 0 {
		return nil, ErrNoValidTransactions
	}
	return out, nil
}

func transactionFromMap(obj map[string]interface{}) (domain.RawTransaction, error) {
	dateStr, err := completion.GetString(obj, "date", true)
	if err != nil {
		return domain.RawTransaction{}, err
	}
	date, err := parseDate(dateStr, 0)
	if err != nil {
		return domain.RawTransaction{}, err
	}

	desc, err := completion.GetString(obj, "description", true)
	if err != nil {
		return domain.RawTransaction{}, err
	}

	amount, err := completion.GetDecimal(obj, "amount")
	if err != nil {
		return domain.RawTransaction{}, err
	}

	merchant, err := completion.GetString(obj, "merchant", false)
	if err != nil {
		return domain.RawTransaction{}, err
	}
	if merchant == "" {
		merchant = domain.MerchantName(desc)
	}

	return domain.RawTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Merchant:    merchant,
	}, nil
}

func yearAccepted(year int, accepted []int) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, y := range accepted {
		if y == year {
			return true
		}
	}
	return false
}

func yearList(years []int) string {
	s := make([]string, len(years))
	for i, y := range years {
		s[i] = strconv.Itoa(y)
	}
	return strings.Join(s, ", ")
}
