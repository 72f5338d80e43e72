package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

type AnalysisRow struct {
	AnalysisID string    `bigquery:"analysis_id"` // REQUIRED
	Name       string    `bigquery:"name"`        // NULLABLE
	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED
}

type StatementRow struct {
	StatementID   string `bigquery:"statement_id"`   // REQUIRED
	AnalysisID    string `bigquery:"analysis_id"`    // REQUIRED
	Filename      string `bigquery:"filename"`       // REQUIRED
	Container     string `bigquery:"container"`      // REQUIRED
	BankName      string `bigquery:"bank_name"`      // REQUIRED
	StatementType string `bigquery:"statement_type"` // REQUIRED
	Method        string `bigquery:"extraction_method"`

	Fingerprint     bigquery.NullString `bigquery:"fingerprint"`       // NULLABLE
	LearnedFormatID bigquery.NullString `bigquery:"learned_format_id"` // NULLABLE
	ArchiveURI      bigquery.NullString `bigquery:"archive_uri"`       // NULLABLE

	FileCount        int64     `bigquery:"file_count"`
	TransactionCount int64     `bigquery:"transaction_count"`
	UploadedTS       time.Time `bigquery:"uploaded_ts"` // REQUIRED
}

// TransactionRow is both the read shape and the UNNEST parameter shape.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	AnalysisID    string `bigquery:"analysis_id"`    // REQUIRED
	StatementID   string `bigquery:"statement_id"`   // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Description     string     `bigquery:"description"`      // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	Merchant        string     `bigquery:"merchant"`         // NULLABLE

	BusinessName        string               `bigquery:"business_name"`
	MerchantType        string               `bigquery:"merchant_type"`
	Location            string               `bigquery:"location"`
	MerchantDescription string               `bigquery:"merchant_description"`
	Category            string               `bigquery:"category"`
	Latitude            bigquery.NullFloat64 `bigquery:"latitude"`
	Longitude           bigquery.NullFloat64 `bigquery:"longitude"`
	Enriched            bool                 `bigquery:"enriched"`

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

type CategoryRow struct {
	CategoryID string    `bigquery:"category_id"` // REQUIRED
	Name       string    `bigquery:"name"`        // REQUIRED
	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED
}

type LearnedFormatRow struct {
	FormatID      string `bigquery:"format_id"`      // REQUIRED
	Fingerprint   string `bigquery:"fingerprint"`    // REQUIRED, unique
	BankName      string `bigquery:"bank_name"`      // REQUIRED
	StatementType string `bigquery:"statement_type"` // REQUIRED

	Procedure          string `bigquery:"procedure"`           // REQUIRED JSON text
	Description        string `bigquery:"description"`         // NULLABLE
	SampleFirstPage    string `bigquery:"sample_first_page"`   // NULLABLE
	SampleTransactions string `bigquery:"sample_transactions"` // NULLABLE JSON text

	LearnedTS  time.Time              `bigquery:"learned_ts"`   // REQUIRED
	LastUsedTS bigquery.NullTimestamp `bigquery:"last_used_ts"` // NULLABLE
	UseCount   int64                  `bigquery:"use_count"`    // REQUIRED
}

type merchantCacheRow struct {
	MerchantKey         string               `bigquery:"merchant_key"`
	BusinessName        string               `bigquery:"business_name"`
	MerchantType        string               `bigquery:"merchant_type"`
	MerchantDescription string               `bigquery:"merchant_description"`
	Category            string               `bigquery:"category"`
	Location            string               `bigquery:"location"`
	Latitude            bigquery.NullFloat64 `bigquery:"latitude"`
	Longitude           bigquery.NullFloat64 `bigquery:"longitude"`
}
