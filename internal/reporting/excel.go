package reporting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Workbook kinds for the daily spreadsheet.
const (
	SheetSummary = "Summary" // outgoing replies
	SheetHandled = "Handled" // incoming messages routed to the agent
)

var dailyHeaders = []string{"Date", "Agent", "MessagesHandled", "PhoneNumbers", "OnLeave"}

// DailyWorkbook writes a one-row XLSX for the agent's day. SheetSummary
// counts outgoing messages and shows the agent with initials; SheetHandled
// counts incoming ones.
func (e *Engine) DailyWorkbook(ctx context.Context, w io.Writer, agent, day, sheet string) error {
	r, err := e.DailyReport(ctx, agent, day)
	if err != nil {
		return err
	}

	name, count, phones := r.Display, r.Outgoing.Count, r.Outgoing.Recipients
	if sheet == SheetHandled {
		name, count, phones = r.Agent, r.Incoming.Count, r.Incoming.Recipients
	} else {
		sheet = SheetSummary
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("excel sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("excel sheet: %w", err)
	}
	f.SetActiveSheet(index)

	for i, h := range dailyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("excel header: %w", err)
		}
	}
	values := []any{r.Date, name, count, strings.Join(phones, "\n"), r.OnLeave}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("excel row: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "E", 18); err != nil {
		return fmt.Errorf("excel layout: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("excel write: %w", err)
	}
	return nil
}

// WorkbookName is the download file name for a daily workbook.
func WorkbookName(agent, sheet string, day time.Time) string {
	prefix := "agent_daily"
	if sheet == SheetHandled {
		prefix = "agent_handled"
	}
	return fmt.Sprintf("%s_%s_%s.xlsx", prefix, agent, day.Format("20060102"))
}
