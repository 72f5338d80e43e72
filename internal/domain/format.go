package domain

// ContainerType is the file container, decided from the extension.
type ContainerType string

const (
	ContainerCSV         ContainerType = "csv"
	ContainerPDF         ContainerType = "pdf"
	ContainerImage       ContainerType = "image"
	ContainerOFX         ContainerType = "ofx"
	ContainerQIF         ContainerType = "qif"
	ContainerUnsupported ContainerType = "unsupported"
)

// StatementType distinguishes transaction accounts from credit cards.
type StatementType string

const (
	StatementTransaction StatementType = "transaction"
	StatementCreditCard  StatementType = "credit_card"
	StatementUnknown     StatementType = "unknown"
)

// UnknownBank is used when no bank rule matched.
const UnknownBank = "Unknown"

// DetectedFormat is the result of document type detection.
type DetectedFormat struct {
	Container     ContainerType `json:"container"`
	BankName      string        `json:"bankName"`
	StatementType StatementType `json:"statementType"`
}

// KnownBank reports whether a bank was identified.
func (f DetectedFormat) KnownBank() bool {
	return f.BankName != "" && f.BankName != UnknownBank
}

// Document is an uploaded file, alive for a single ingestion request.
type Document struct {
	Filename string
	Data     []byte
}

// Method records which extraction strategy produced a file's transactions.
type Method string

const (
	MethodLearned      Method = "learned"
	MethodPattern      Method = "pattern"
	MethodAssisted     Method = "assisted"
	MethodCSVAssisted  Method = "csv_assisted"
	MethodCSVHeuristic Method = "csv_heuristic"
	MethodVision       Method = "vision"
	MethodOFX          Method = "ofx_structured"
	MethodOFXAssisted  Method = "ofx_assisted"
	MethodQIFAssisted  Method = "qif_assisted"
	MethodSkipped      Method = "skipped"
	MethodFailed       Method = "failed"
)

// ExtractionMetadata describes how one file was processed.
type ExtractionMetadata struct {
	Filename         string        `json:"filename"`
	Container        ContainerType `json:"container"`
	BankName         string        `json:"bankName"`
	StatementType    StatementType `json:"statementType"`
	Method           Method        `json:"method"`
	Fingerprint      string        `json:"fingerprint,omitempty"`
	LearnedFormatID  string        `json:"learnedFormatId,omitempty"`
	TransactionCount int           `json:"transactionCount"`
	Error            string        `json:"error,omitempty"`
}
