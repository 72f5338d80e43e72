package extraction

import "strings"

const transactionSchema = "Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string, the transaction text as printed\n" +
	"- \"amount\": number (negative for money OUT / debits, positive for money IN / credits)\n" +
	"- \"merchant\": string, the merchant or counterparty name without card numbers, terminal ids or locations\n\n"

const outputRules = "Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Do NOT use ```json or any Markdown.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

func statementPrompt(bankName string, acceptedYears []int) string {
	var b strings.Builder
	b.WriteString("You are a financial statement parser")
	if bankName != "" && bankName != "Unknown" {
		b.WriteString(" for " + bankName + " statements")
	}
	b.WriteString(".\n\nTask:\n" +
		"- Extract ALL real transactions from the statement.\n" +
		"- Do NOT invent transactions. Skip opening/closing balances, totals and summaries.\n" +
		"- Output a JSON array of objects.\n\n")
	b.WriteString(transactionSchema)
	b.WriteString("Rules:\n" +
		"- Dates printed as DD/MM/YYYY or DD/MM are day first. Convert to YYYY-MM-DD.\n" +
		"- If the statement has separate debit / credit columns, convert to a single signed amount.\n")
	if len(acceptedYears) > 0 {
		b.WriteString("- Only include transactions dated in " + yearList(acceptedYears) + ".\n")
	}
	b.WriteString("\n" + outputRules)
	return b.String()
}

func csvPrompt(csvText string) string {
	return "You are normalising rows exported from a bank account as CSV.\n\n" +
		"Task:\n" +
		"- Convert EVERY data row below into one transaction, in the same order.\n" +
		"- Output a JSON array of objects.\n\n" +
		transactionSchema +
		"Rules:\n" +
		"- Convert DD/MM/YYYY dates to YYYY-MM-DD. When a numeric date is ambiguous, read it as DD/MM.\n" +
		"- A value in a debit or withdrawal column is negative; a value in a credit or deposit column is positive.\n" +
		"- Keep an existing sign on a single amount column.\n\n" +
		outputRules +
		"\nCSV:\n" + csvText
}

func visionPrompt() string {
	return "You are reading a screenshot of a banking app or statement.\n\n" +
		"Task:\n" +
		"- Extract every transaction visible in the attached image.\n" +
		"- Do NOT invent transactions that are not visible.\n" +
		"- Output a JSON array of objects.\n\n" +
		transactionSchema +
		"Rules:\n" +
		"- Dates printed as DD/MM/YYYY or DD MMM are day first. Convert to YYYY-MM-DD; assume the current statement year when no year is shown.\n" +
		"- Money spent is negative, money received is positive.\n\n" +
		outputRules
}

func fileFormatPrompt(format string, content string) string {
	return "You are parsing a " + format + " bank export file.\n\n" +
		"Task:\n" +
		"- Extract every transaction in the file.\n" +
		"- Output a JSON array of objects.\n\n" +
		transactionSchema +
		"Rules:\n" +
		"- Keep the sign from the file: withdrawals negative, deposits positive.\n\n" +
		outputRules +
		"\nFile content:\n" + content
}
