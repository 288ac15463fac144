package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jask/banksync/internal/ledger"
)

// PDFParser extracts statements from PDF documents by pulling the
// plain text and applying line rules. It handles the common layout of
// retail bank statements: an account header, a period line, balance
// lines, then one transaction per line.
type PDFParser struct{}

var (
	reAccount = regexp.MustCompile(`(?mi)^\s*Account:\s*(.+?)\s+(\S+)\s+([\w*x-]+\d{2,4})\s*$`)
	rePeriod  = regexp.MustCompile(`(?mi)^\s*Period:\s*(\d{4}-\d{2}-\d{2})\s+to\s+(\d{4}-\d{2}-\d{2})\s*$`)
	reOpening = regexp.MustCompile(`(?mi)^\s*Opening Balance:\s*(-?\$?[\d,]+\.\d{2})\s*$`)
	reClosing = regexp.MustCompile(`(?mi)^\s*Closing Balance:\s*(-?\$?[\d,]+\.\d{2})\s*$`)
	// date, description, amount; description is everything between
	reTxnLine = regexp.MustCompile(`^\s*(\d{4}-\d{2}-\d{2})\s+(.+?)\s+(-?\$?[\d,]+\.\d{2})\s*$`)
)

func (p *PDFParser) Parse(ctx context.Context, path string) ([]ledger.Statement, error) {
	text, err := extractText(path)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	return p.parseText(ctx, path, text)
}

func extractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (p *PDFParser) parseText(ctx context.Context, path, text string) ([]ledger.Statement, error) {
	account := reAccount.FindStringSubmatch(text)
	if account == nil {
		return nil, fmt.Errorf("no account header found")
	}
	key := ledger.AccountKey{
		Institution:  strings.TrimSpace(account[1]),
		AccountType:  strings.TrimSpace(account[2]),
		NumberMasked: strings.TrimSpace(account[3]),
	}

	period := rePeriod.FindStringSubmatch(text)
	if period == nil {
		return nil, fmt.Errorf("no statement period found")
	}
	start, err := parseDay(period[1])
	if err != nil {
		return nil, fmt.Errorf("period start %q: %w", period[1], err)
	}
	end, err := parseDay(period[2])
	if err != nil {
		return nil, fmt.Errorf("period end %q: %w", period[2], err)
	}

	st := ledger.Statement{
		ID:          StatementID(key, start, end),
		Key:         key,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	if m := reOpening.FindStringSubmatch(text); m != nil {
		if st.OpeningCents, err = dollarsToCents(m[1]); err != nil {
			st.Warnings = append(st.Warnings, fmt.Sprintf("opening balance %q: %v", m[1], err))
		}
	}
	if m := reClosing.FindStringSubmatch(text); m != nil {
		if st.ClosingCents, err = dollarsToCents(m[1]); err != nil {
			st.Warnings = append(st.Warnings, fmt.Sprintf("closing balance %q: %v", m[1], err))
		}
	}

	for i, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := reTxnLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		date, err := parseDay(m[1])
		if err != nil {
			st.Warnings = append(st.Warnings, lineWarning(path, i+1, err))
			continue
		}
		cents, err := dollarsToCents(m[3])
		if err != nil {
			st.Warnings = append(st.Warnings, lineWarning(path, i+1, err))
			continue
		}
		st.Transactions = append(st.Transactions, buildTransaction(key, st.ID, date, cents, m[2], ""))
	}
	if len(st.Transactions) == 0 {
		st.Warnings = append(st.Warnings, fmt.Sprintf("%s: no transaction lines recognised", path))
	}
	return []ledger.Statement{st}, nil
}
