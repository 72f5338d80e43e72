package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/aclindsa/ofxgo"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// extractOFX reads the statement structurally and falls back to the model
// when the file does not parse or holds no transactions.
func (e *Engine) extractOFX(ctx context.Context, doc domain.Document, meta *domain.ExtractionMetadata) ([]domain.RawTransaction, error) {
	txs, err := parseOFX(doc.Data)
	if err == nil && len(txs) > 0 {
		meta.Method = domain.MethodOFX
		return txs, nil
	}
	e.log.Info().Err(err).Str("file", doc.Filename).Msg("Structured OFX parse gave nothing, using model")

	meta.Method = domain.MethodOFXAssisted
	return e.assistedFile(ctx, "OFX", doc.Data)
}

func parseOFX(data []byte) ([]domain.RawTransaction, error) {
	resp, err := ofxgo.ParseResponse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parseOFX: %w", err)
	}

	var lists []*ofxgo.TransactionList
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			lists = append(lists, stmt.BankTranList)
		}
	}

	var out []domain.RawTransaction
	for _, list := range lists {
		for _, t := range list.Transactions {
			tx, err := ofxTransaction(t)
			if err != nil {
				continue
			}
			out = append(out, tx)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("parseOFX: no transactions")
	}
	return out, nil
}

func ofxTransaction(t ofxgo.Transaction) (domain.RawTransaction, error) {
	posted := t.DtPosted.Time
	if posted.IsZero() && t.DtUser != nil {
		posted = t.DtUser.Time
	}
	if posted.IsZero() {
		return domain.RawTransaction{}, errors.New("missing date")
	}

	amount, err := decimal.NewFromString(t.TrnAmt.FloatString(2))
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("amount: %w", err)
	}

	desc := strings.TrimSpace(t.Name.String())
	if desc == "" && t.Payee != nil {
		desc = strings.TrimSpace(t.Payee.Name.String())
	}
	if desc == "" {
		desc = strings.TrimSpace(t.Memo.String())
	}
	if desc == "" {
		return domain.RawTransaction{}, errors.New("missing description")
	}

	return domain.RawTransaction{
		Date:        civil.DateOf(posted),
		Description: desc,
		Amount:      amount,
		Merchant:    domain.MerchantName(desc),
	}, nil
}
