package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrefixUsesTwoDigitYear(t *testing.T) {
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "OV-25", Prefix(PrefixOrder, at))
	require.Equal(t, "FV-25", Prefix(PrefixInvoice, at))

	at = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "GV-26", Prefix(PrefixGuide, at))
}

func TestNextIncrementsSuffix(t *testing.T) {
	require.Equal(t, "OV-25-0008", Next("OV-25", "OV-25-0007"))
	require.Equal(t, "OV-25-0100", Next("OV-25", "OV-25-0099"))
}

func TestNextStartsEmptySeriesAtOne(t *testing.T) {
	require.Equal(t, "CV-25-0001", Next("CV-25", ""))
}

func TestNextResetsOnMalformedLast(t *testing.T) {
	require.Equal(t, "OV-25-0001", Next("OV-25", "OV-25"))
	require.Equal(t, "OV-25-0001", Next("OV-25", "OV-25-12-34"))
	require.Equal(t, "OV-25-0001", Next("OV-25", "OV-25-00XY"))
	require.Equal(t, "OV-25-0001", Next("OV-25", "garbage"))
}

func TestNextGrowsPastFourDigits(t *testing.T) {
	require.Equal(t, "FV-25-10000", Next("FV-25", "FV-25-9999"))
}
