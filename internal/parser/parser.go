// Package parser extracts statements from source documents. The sync
// pipeline consumes the Parser interface; CSV and PDF implementations
// live alongside it.
package parser

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jask/banksync/internal/ledger"
)

// Parser turns one document into statements. A document may contain
// several statement periods; recoverable problems go into the
// statement's Warnings rather than failing the document.
type Parser interface {
	Parse(ctx context.Context, path string) ([]ledger.Statement, error)
}

// ForPath picks a parser by file extension. Unsupported extensions
// return nil.
func ForPath(path string) Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &CSVParser{}
	case ".pdf":
		return &PDFParser{}
	default:
		return nil
	}
}

// StatementID derives a stable id for a statement period, so
// re-parsing the same document on a later run produces identical
// transaction ids.
func StatementID(key ledger.AccountKey, periodStart, periodEnd time.Time) string {
	seed := key.String() + "|" + periodStart.Format(time.DateOnly) + "|" + periodEnd.Format(time.DateOnly)
	return "stmt_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// dollarsToCents converts "1,234.56" to signed cents.
func dollarsToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "$")
	s = strings.Replace(s, "-$", "-", 1)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}

func directionFor(cents int64) string {
	if cents >= 0 {
		return ledger.DirectionCredit
	}
	return ledger.DirectionDebit
}

// buildTransaction assembles a canonical transaction with its
// deterministic id.
func buildTransaction(key ledger.AccountKey, statementID string, date time.Time, cents int64, desc, merchant string) ledger.Transaction {
	t := ledger.Transaction{
		AccountKey:  key,
		Date:        date,
		AmountCents: cents,
		Direction:   directionFor(cents),
		Description: strings.TrimSpace(desc),
		Merchant:    strings.TrimSpace(merchant),
		Confidence:  1,
		Provenance:  ledger.SourceDocument,
	}
	return ledger.WithID(t, statementID)
}

func lineWarning(path string, line int, err error) string {
	return fmt.Sprintf("%s line %d: %v", filepath.Base(path), line, err)
}
