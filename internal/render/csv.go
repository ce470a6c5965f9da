package render

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/filingcheck/internal/schema"
)

// csvRenderer writes one row per red flag. Documents without flags get a
// single row with empty flag columns so every document appears.
type csvRenderer struct{}

var csvHeader = []string{
	"filename", "document_type", "verdict", "score", "risk_score",
	"severity", "category", "location", "description", "remediation", "error",
}

func (r *csvRenderer) Render(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, d := range report.Session.Documents {
		base := []string{
			d.Document.Filename,
			string(d.Document.Type),
			string(d.Report.Verdict),
			strconv.FormatFloat(d.Report.OverallScore, 'f', 2, 64),
			strconv.FormatFloat(d.Report.RiskScore, 'f', 2, 64),
		}
		if len(d.Report.RedFlags) == 0 {
			if err := w.Write(append(base, "", "", "", "", "", d.Error)); err != nil {
				return nil, err
			}
			continue
		}
		for _, f := range d.Report.RedFlags {
			row := append(append([]string(nil), base...),
				string(f.Severity), string(f.Category), strconv.Itoa(f.Location),
				f.Description, f.Remediation, d.Error)
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *csvRenderer) RenderAnswer(answer *schema.Answer) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{
		{"question", "answer", "confidence", "references", "fallback"},
		{
			answer.Question,
			answer.Text,
			strconv.FormatFloat(answer.Confidence, 'f', 2, 64),
			strings.Join(answer.References, "; "),
			strconv.FormatBool(answer.Fallback),
		},
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("rendering csv: %w", err)
	}
	return buf.Bytes(), nil
}
