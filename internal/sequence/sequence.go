// Package sequence issues gapless-enough document numbers of the form
// PREFIX-YY-NNNN, one series per prefix and two-digit year.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document prefixes used across the sales and dispatch modules.
const (
	PrefixQuote          = "CV"
	PrefixOrder          = "OV"
	PrefixInvoice        = "FV"
	PrefixGuide          = "GV"
	PrefixReceptionGuide = "GC"
	PrefixCreditNote     = "NC"
	PrefixDebitNote      = "ND"
)

// Prefix returns the series key for a document kind at a point in time,
// e.g. "OV-25" during 2025. Numbers restart each calendar year.
func Prefix(kind string, now time.Time) string {
	return fmt.Sprintf("%s-%02d", kind, now.Year()%100)
}

// Next computes the number that follows last within the series identified
// by prefix. An empty or malformed last number restarts the series at 1;
// the suffix is zero padded to four digits and grows past 9999 naturally.
func Next(prefix, last string) string {
	n := 1
	if last != "" {
		parts := strings.Split(last, "-")
		if len(parts) == 3 {
			if parsed, err := strconv.Atoi(parts[2]); err == nil {
				n = parsed + 1
			}
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// Lock serializes number issuance for one series inside the current
// transaction. The advisory lock is released automatically at commit or
// rollback, so two writers issuing against the same prefix cannot read
// the same last number.
func Lock(ctx context.Context, tx pgx.Tx, prefix string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix)
	return err
}

// Issue combines Lock with a caller supplied lookup of the highest number
// already stored for the series.
func Issue(ctx context.Context, tx pgx.Tx, kind string, now time.Time, lastFn func(ctx context.Context, prefix string) (string, error)) (string, error) {
	prefix := Prefix(kind, now)
	if err := Lock(ctx, tx, prefix); err != nil {
		return "", err
	}
	last, err := lastFn(ctx, prefix)
	if err != nil {
		return "", err
	}
	return Next(prefix, last), nil
}
