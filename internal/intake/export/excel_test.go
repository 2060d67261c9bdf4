package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"intakehub/internal/intake/models"
)

func readSheet(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	return rows
}

func TestWriteCases(t *testing.T) {
	processed := time.Date(2025, 9, 20, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("0b6c5f7e-2d1a-4c3b-9e8f-7a6b5c4d3e2f")
	rows := []models.AggregateRecord{{
		CaseID:           id,
		DistrictCode:     "CHESAPEAKE",
		SchoolCode:       "CHES_001",
		GradeBand:        "6-8",
		ReferralSource:   "counselor",
		OptInType:        models.OptInImmediate,
		ReferralDate:     time.Date(2025, 9, 15, 14, 30, 0, 0, time.UTC),
		FiscalPeriod:     "FY26-Q1",
		InsurancePresent: true,
		Status:           models.StatusActive,
		SessionCount:     3,
		ProcessedAt:      &processed,
	}}

	out, err := NewWriter().WriteCases(rows)
	require.NoError(t, err)

	got := readSheet(t, out)
	require.Len(t, got, 2)
	assert.Equal(t, Header, got[0])
	assert.Equal(t, []string{
		id.String(), "CHESAPEAKE", "CHES_001", "6-8", "counselor",
		"immediate_service", "2025-09-15", "FY26-Q1", "Yes", "active", "3", "No", "2025-09-20",
	}, got[1])
}

func TestWriteCasesEmptyKeepsHeader(t *testing.T) {
	out, err := NewWriter().WriteCases(nil)
	require.NoError(t, err)

	got := readSheet(t, out)
	require.Len(t, got, 1)
	assert.Equal(t, Header, got[0])
}
