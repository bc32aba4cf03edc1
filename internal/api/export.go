package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/marcus/tablehub/internal/model"
)

// exportFilename builds the attachment filename for an export download.
func exportFilename(ext string) string {
	return fmt.Sprintf("tablehub-export-%s.%s", time.Now().Format("20060102-150405"), ext)
}

// handleExportJSON handles GET /api/export.json: every table plus metadata.
func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.GetAllTables()
	if err != nil {
		logFor(r.Context()).Error("export json", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "export failed")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename("json"))
	writeJSON(w, http.StatusOK, map[string]any{
		"meta": map[string]any{
			"exportedAt": time.Now().UTC().Format(time.RFC3339),
			"tableCount": len(tables),
			"version":    "1.0.0",
		},
		"tables": tables,
	})
}

// handleExportCSV handles GET /api/export.csv: each table as a section with
// a name line, the header row, the data rows, and a blank separator.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.GetAllTables()
	if err != nil {
		logFor(r.Context()).Error("export csv", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename("csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	for _, t := range tables {
		cw.Write([]string{"Table: " + t.Name})
		cw.Write(t.Headers)
		for _, row := range t.Rows {
			cw.Write(row.Cells)
		}
		cw.Write([]string{""})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logFor(r.Context()).Error("export csv write", "err", err)
	}
}

// handleExportXLSX handles GET /api/export.xlsx: one worksheet per table.
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.GetAllTables()
	if err != nil {
		logFor(r.Context()).Error("export xlsx", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "export failed")
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		sheet := sheetName(t.Name, i)
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				logFor(r.Context()).Error("export xlsx sheet", "table", t.ID, "err", err)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "export failed")
				return
			}
		}
		if err := writeSheet(f, sheet, t); err != nil {
			logFor(r.Context()).Error("export xlsx rows", "table", t.ID, "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "export failed")
			return
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename("xlsx"))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		logFor(r.Context()).Error("export xlsx write", "err", err)
	}
}

func writeSheet(f *excelize.File, sheet string, t model.Table) error {
	for col, h := range t.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for rowIdx, row := range t.Rows {
		for col, v := range row.Cells {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// sheetName makes a table name safe and unique as an Excel worksheet name:
// forbidden characters stripped, 31-char limit, index suffix for uniqueness.
func sheetName(name string, idx int) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		clean = "Table"
	}
	suffix := fmt.Sprintf(" (%d)", idx+1)
	if len(clean)+len(suffix) > 31 {
		clean = clean[:31-len(suffix)]
	}
	return clean + suffix
}
