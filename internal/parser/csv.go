package parser

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/jask/banksync/internal/ledger"
)

// CSVParser reads statement exports. The first record names the
// account, the second the statement period and balances, and the rest
// are transactions:
//
//	institution,account_type,number_masked
//	period_start,period_end,opening,closing
//	date,amount,description[,merchant]
//
// Bad transaction rows become warnings; bad headers fail the document.
type CSVParser struct{}

func (p *CSVParser) Parse(ctx context.Context, path string) ([]ledger.Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	account, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read account header: %w", err)
	}
	if len(account) < 3 {
		return nil, fmt.Errorf("account header: expected institution,account_type,number_masked")
	}
	key := ledger.AccountKey{
		Institution:  account[0],
		AccountType:  account[1],
		NumberMasked: account[2],
	}

	period, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read period header: %w", err)
	}
	if len(period) < 4 {
		return nil, fmt.Errorf("period header: expected period_start,period_end,opening,closing")
	}
	start, err := parseDay(period[0])
	if err != nil {
		return nil, fmt.Errorf("period start %q: %w", period[0], err)
	}
	end, err := parseDay(period[1])
	if err != nil {
		return nil, fmt.Errorf("period end %q: %w", period[1], err)
	}
	opening, err := dollarsToCents(period[2])
	if err != nil {
		return nil, fmt.Errorf("opening balance %q: %w", period[2], err)
	}
	closing, err := dollarsToCents(period[3])
	if err != nil {
		return nil, fmt.Errorf("closing balance %q: %w", period[3], err)
	}

	st := ledger.Statement{
		ID:           StatementID(key, start, end),
		Key:          key,
		PeriodStart:  start,
		PeriodEnd:    end,
		OpeningCents: opening,
		ClosingCents: closing,
	}

	line := 2
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			st.Warnings = append(st.Warnings, lineWarning(path, line, err))
			continue
		}
		if len(rec) < 3 {
			st.Warnings = append(st.Warnings, lineWarning(path, line, fmt.Errorf("expected date,amount,description")))
			continue
		}
		date, err := parseDay(rec[0])
		if err != nil {
			st.Warnings = append(st.Warnings, lineWarning(path, line, fmt.Errorf("date %q: %w", rec[0], err)))
			continue
		}
		cents, err := dollarsToCents(rec[1])
		if err != nil {
			st.Warnings = append(st.Warnings, lineWarning(path, line, fmt.Errorf("amount %q: %w", rec[1], err)))
			continue
		}
		merchant := ""
		if len(rec) > 3 {
			merchant = rec[3]
		}
		st.Transactions = append(st.Transactions, buildTransaction(key, st.ID, date, cents, rec[2], merchant))
	}
	return []ledger.Statement{st}, nil
}
