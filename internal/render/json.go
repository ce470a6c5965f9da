package render

import (
	"encoding/json"

	"github.com/dshills/filingcheck/internal/schema"
)

type jsonRenderer struct{}

func (r *jsonRenderer) Render(report *Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (r *jsonRenderer) RenderAnswer(answer *schema.Answer) ([]byte, error) {
	return json.MarshalIndent(answer, "", "  ")
}
