package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	summarySheet      = "G702"
	continuationSheet = "G703"
	moneyFormat       = "#,##0.00"
	dateLayout        = "2006-01-02"
)

var continuationHeaders = []string{
	"Item No.",
	"Description of Work",
	"Scheduled Value",
	"From Previous Application",
	"This Period",
	"Materials Presently Stored",
	"Total Completed and Stored to Date",
	"% (G / C)",
	"Balance to Finish",
	"Retainage",
}

// XLSXWriter renders a certificate as a workbook with an application
// summary sheet and a continuation sheet
type XLSXWriter struct {
	logger *zap.Logger
}

// NewXLSXWriter creates a new workbook writer
func NewXLSXWriter(logger *zap.Logger) *XLSXWriter {
	return &XLSXWriter{logger: logger}
}

// Write builds the workbook and streams it to w
func (xw *XLSXWriter) Write(ctx context.Context, cert *entity.Certificate, w io.Writer) error {
	xw.logger.Info("Rendering certificate workbook",
		zap.String("certificate_number", cert.Number),
		zap.Int64("pay_application_id", cert.PayApplicationID))

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if _, err := f.NewSheet(continuationSheet); err != nil {
		return fmt.Errorf("failed to create continuation sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(moneyFormat)})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	xw.fillSummary(f, cert, bold, money)
	xw.fillContinuation(f, cert, bold, money)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ContentType returns the MIME type of the output
func (xw *XLSXWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension returns the file extension of the output
func (xw *XLSXWriter) Extension() string { return ".xlsx" }

func (xw *XLSXWriter) fillSummary(f *excelize.File, cert *entity.Certificate, bold, money int) {
	s := summarySheet
	xw.setCell(f, s, "A1", "APPLICATION AND CERTIFICATE FOR PAYMENT")
	xw.setStyle(f, s, "A1", "A1", bold)

	header := [][2]interface{}{
		{"Project", cert.ProjectName},
		{"Application No.", cert.ApplicationNumber},
		{"Certificate No.", cert.Number},
		{"Contractor", cert.ContractorID},
		{"Revision", cert.Revision},
		{"Submitted", dateOrBlank(cert.SubmittedAt)},
		{"Finalized", dateOrBlank(cert.FinalizedAt)},
		{"Finalized By", cert.FinalizedBy},
	}
	row := 3
	for _, h := range header {
		xw.setCell(f, s, cell(1, row), h[0])
		xw.setCell(f, s, cell(2, row), h[1])
		row++
	}

	sum := cert.Summary
	figures := []struct {
		label string
		value decimal.Decimal
	}{
		{"1. Original Contract Sum", sum.OriginalContractSum},
		{"4. Total Completed and Stored to Date", sum.TotalCompletedAndStored},
		{"5. Retainage", sum.Retainage},
		{"6. Total Earned Less Retainage", sum.TotalEarnedLessRetainage},
		{"7. Less Previous Certificates for Payment", sum.PreviousCertificates},
		{"8. Current Payment Due", sum.CurrentPaymentDue},
		{"9. Balance to Finish, Including Retainage", sum.BalanceToFinish},
	}
	row++
	first := row
	for _, fig := range figures {
		xw.setCell(f, s, cell(1, row), fig.label)
		xw.setCell(f, s, cell(2, row), fig.value.InexactFloat64())
		row++
	}
	xw.setStyle(f, s, cell(2, first), cell(2, row-1), money)

	row++
	xw.setCell(f, s, cell(1, row), "Reviewer")
	xw.setCell(f, s, cell(2, row), "Decision")
	xw.setCell(f, s, cell(3, row), "Date")
	xw.setStyle(f, s, cell(1, row), cell(3, row), bold)
	for _, r := range cert.Reviewers {
		row++
		xw.setCell(f, s, cell(1, row), fmt.Sprintf("%d. %s", r.Position, r.ReviewerID))
		xw.setCell(f, s, cell(2, row), r.Decision)
		if r.DecidedAt != nil {
			xw.setCell(f, s, cell(3, row), r.DecidedAt.Format(dateLayout))
		}
	}

	if err := f.SetColWidth(s, "A", "A", 44); err != nil {
		xw.logger.Warn("Failed to set column width", zap.String("sheet", s), zap.Error(err))
	}
}

func (xw *XLSXWriter) fillContinuation(f *excelize.File, cert *entity.Certificate, bold, money int) {
	s := continuationSheet
	for i, h := range continuationHeaders {
		xw.setCell(f, s, cell(i+1, 1), h)
	}
	xw.setStyle(f, s, "A1", cell(len(continuationHeaders), 1), bold)

	row := 2
	for _, line := range cert.Lines {
		values := []interface{}{
			line.ItemNumber,
			line.Description,
			line.ScheduledValue.InexactFloat64(),
			line.FromPreviousApplication.InexactFloat64(),
			line.ThisPeriod.InexactFloat64(),
			line.MaterialsStored.InexactFloat64(),
			line.TotalCompletedAndStored.InexactFloat64(),
			line.PercentComplete.InexactFloat64(),
			line.BalanceToFinish.InexactFloat64(),
			line.Retainage.InexactFloat64(),
		}
		for i, v := range values {
			xw.setCell(f, s, cell(i+1, row), v)
		}
		row++
	}

	var scheduled, previous, period, stored, completed, balance, retainage decimal.Decimal
	for _, line := range cert.Lines {
		scheduled = scheduled.Add(line.ScheduledValue)
		previous = previous.Add(line.FromPreviousApplication)
		period = period.Add(line.ThisPeriod)
		stored = stored.Add(line.MaterialsStored)
		completed = completed.Add(line.TotalCompletedAndStored)
		balance = balance.Add(line.BalanceToFinish)
		retainage = retainage.Add(line.Retainage)
	}
	totals := []interface{}{
		"GRAND TOTAL", "",
		scheduled.InexactFloat64(),
		previous.InexactFloat64(),
		period.InexactFloat64(),
		stored.InexactFloat64(),
		completed.InexactFloat64(),
		entity.PercentOf(completed, scheduled).InexactFloat64(),
		balance.InexactFloat64(),
		retainage.InexactFloat64(),
	}
	for i, v := range totals {
		xw.setCell(f, s, cell(i+1, row), v)
	}
	xw.setStyle(f, s, cell(1, row), cell(len(totals), row), bold)
	xw.setStyle(f, s, cell(3, 2), cell(7, row), money)
	xw.setStyle(f, s, cell(9, 2), cell(10, row), money)

	if err := f.SetColWidth(s, "B", "B", 36); err != nil {
		xw.logger.Warn("Failed to set column width", zap.String("sheet", s), zap.Error(err))
	}
}

// setCell sets a cell value, logging rather than failing on error
func (xw *XLSXWriter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		xw.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func (xw *XLSXWriter) setStyle(f *excelize.File, sheet, from, to string, style int) {
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		xw.logger.Warn("Failed to set cell style",
			zap.String("sheet", sheet),
			zap.String("range", from+":"+to),
			zap.Error(err))
	}
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func dateOrBlank(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func strPtr(s string) *string { return &s }

var _ port.CertificateWriter = (*XLSXWriter)(nil)
