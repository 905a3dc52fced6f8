package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/service"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func renderProgress(p *service.Progress) string {
	rows := [][]string{
		{"Batch", p.BatchID},
		{"Status", string(p.Status)},
		{"Progress", fmt.Sprintf("%d%%", p.CompletionPercentage)},
		{"Files", fmt.Sprintf("%d total, %d processed, %d failed, %d pending", p.TotalFiles, p.ProcessedFiles, p.FailedFiles, p.PendingFiles)},
		{"Started", formatTime(p.StartedAt)},
		{"Completed", formatTime(p.CompletedAt)},
	}
	if p.ErrorMessage != nil {
		rows = append(rows, []string{"Error", *p.ErrorMessage})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderFiles(files []models.BatchFile) string {
	rows := make([][]string, 0, len(files))
	for i, f := range files {
		detail := ""
		switch {
		case f.InvoiceID != nil:
			detail = "invoice " + *f.InvoiceID
		case f.ErrorMessage != nil:
			detail = truncate(*f.ErrorMessage, 80)
		}
		duration := ""
		if f.ProcessingDurationMs != nil {
			duration = strconv.FormatInt(*f.ProcessingDurationMs, 10) + "ms"
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), f.Filename, string(f.FileType), string(f.Status), duration, detail})
	}
	return renderTable(
		[]string{"#", "File", "Type", "Status", "Took", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderInvoices(invoices []models.Invoice) string {
	rows := make([][]string, 0, len(invoices))
	for i, inv := range invoices {
		total := "-"
		if inv.TotalAmount != nil {
			total = strconv.FormatFloat(*inv.TotalAmount, 'f', 2, 64)
			if inv.Currency != nil {
				total += " " + *inv.Currency
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			orDash(inv.InvoiceNumber),
			truncate(orDash(inv.CustomerName), 40),
			total,
			strconv.FormatFloat(inv.ConfidenceScore, 'f', 2, 64),
			inv.OriginalFilename,
			inv.ID,
		})
	}
	return renderTable(
		[]string{"#", "Invoice", "Customer", "Total", "Confidence", "File", "ID"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
