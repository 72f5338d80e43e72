package extraction

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-pipeline/internal/completion"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOFX = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<?OFX OFXHEADER="200" VERSION="203" SECURITY="NONE" OLDFILEUID="NONE" NEWFILEUID="NONE"?>
<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS><CODE>0</CODE><SEVERITY>INFO</SEVERITY></STATUS>
<DTSERVER>20240731120000</DTSERVER>
<LANGUAGE>ENG</LANGUAGE>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1001</TRNUID>
<STATUS><CODE>0</CODE><SEVERITY>INFO</SEVERITY></STATUS>
<STMTRS>
<CURDEF>AUD</CURDEF>
<BANKACCTFROM>
<BANKID>062000</BANKID>
<ACCTID>12345678</ACCTID>
<ACCTTYPE>CHECKING</ACCTTYPE>
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240701</DTSTART>
<DTEND>20240731</DTEND>
<STMTTRN>
<TRNTYPE>DEBIT</TRNTYPE>
<DTPOSTED>20240726</DTPOSTED>
<TRNAMT>-50.00</TRNAMT>
<FITID>T1</FITID>
<NAME>EFTPOS WOOLWORTHS 1234</NAME>
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT</TRNTYPE>
<DTPOSTED>20240728</DTPOSTED>
<TRNAMT>3000.00</TRNAMT>
<FITID>T2</FITID>
<NAME>SALARY ACME</NAME>
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2950.00</BALAMT>
<DTASOF>20240731</DTASOF>
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>
`

func TestExtractOFX_Structured(t *testing.T) {
	e := newTestEngine(DefaultConfig(), nil, nil, failingCompleter(t))

	res, err := e.Extract(context.Background(), domain.Document{Filename: "july.ofx", Data: []byte(sampleOFX)})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodOFX, res.Metadata.Method)
	require.Len(t, res.Transactions, 2)

	assert.Equal(t, civil.Date{Year: 2024, Month: 7, Day: 26}, res.Transactions[0].Date)
	assert.True(t, decimal.NewFromInt(-50).Equal(res.Transactions[0].Amount))
	assert.Equal(t, "WOOLWORTHS", res.Transactions[0].Merchant)
	assert.True(t, decimal.NewFromInt(3000).Equal(res.Transactions[1].Amount))
}

func TestExtractOFX_FallsBackToModel(t *testing.T) {
	completer := &mockCompleter{CompleteFunc: func(ctx context.Context, req completion.Request) (string, error) {
		assert.Contains(t, req.Prompt, "OFX")
		return `[{"date":"2024-07-26","description":"WOOLWORTHS","amount":-50}]`, nil
	}}
	e := newTestEngine(DefaultConfig(), nil, nil, completer)

	res, err := e.Extract(context.Background(), domain.Document{Filename: "broken.ofx", Data: []byte("<OFX><garbage")})
	require.NoError(t, err)
	assert.Equal(t, 1, completer.calls)
	assert.Equal(t, domain.MethodOFXAssisted, res.Metadata.Method)
	assert.Len(t, res.Transactions, 1)
}
