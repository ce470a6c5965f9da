package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filingcheck/internal/answer"
	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/knowledge"
	"github.com/dshills/filingcheck/internal/metrics"
	"github.com/dshills/filingcheck/internal/render"
	"github.com/dshills/filingcheck/internal/schema"
)

const resolution = `BOARD RESOLUTION

Dated 1 March 2024. A quorum being present, IT WAS RESOLVED THAT the company open a bank account.

Signed by the Chairman
`

func newServer(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	cat := catalog.MustDefault()
	store, err := knowledge.Load("")
	require.NoError(t, err)
	m := metrics.New()
	srv := New(Options{
		Catalog:        cat,
		Workers:        2,
		Assistant:      &answer.Assistant{Retriever: store, Catalog: cat, Observer: m},
		Metrics:        m,
		Version:        "test",
		MaxUploadBytes: 1 << 20,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, m
}

func upload(t *testing.T, url string, files map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile(filesField, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalyze(t *testing.T) {
	ts, _ := newServer(t)
	resp := upload(t, ts.URL+"/v1/analyze", map[string]string{
		"resolution.txt": resolution,
		"scan.pdf":       "%PDF-1.4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report render.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Len(t, report.Session.Documents, 2)
	assert.Equal(t, 1, report.Session.Stats.DocumentsFailed)
	assert.NotEmpty(t, report.Session.Stats.MissingDocuments)
	assert.NotEmpty(t, report.Recommendations.Priority)

	for _, d := range report.Session.Documents {
		if d.Document.Filename == "resolution.txt" {
			assert.Equal(t, schema.DocBoardResolution, d.Document.Type)
			assert.False(t, d.Failed())
		} else {
			assert.Equal(t, schema.VerdictFailed, d.Report.Verdict)
		}
	}
}

func TestAnalyze_Markdown(t *testing.T) {
	ts, _ := newServer(t)
	resp := upload(t, ts.URL+"/v1/analyze?format=md", map[string]string{"resolution.txt": resolution})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")
}

func TestAnalyze_BadRequests(t *testing.T) {
	ts, _ := newServer(t)

	resp := upload(t, ts.URL+"/v1/analyze", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no files")

	resp = upload(t, ts.URL+"/v1/analyze?format=xml", map[string]string{"a.txt": resolution})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown format")
}

func TestAnalyze_UploadTooLarge(t *testing.T) {
	srv := New(Options{Catalog: catalog.MustDefault(), MaxUploadBytes: 1 << 10})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(filesField, "big.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(strings.Repeat("x", 4<<10)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	ts, _ := newServer(t)
	resp, err := http.Post(ts.URL+"/v1/ask", "application/json",
		strings.NewReader(`{"question":"What particulars must a beneficial owner declaration include?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ans schema.Answer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ans))
	assert.NotEmpty(t, ans.References)
	assert.Greater(t, ans.Confidence, 0.0)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	ts, _ := newServer(t)
	resp, err := http.Post(ts.URL+"/v1/ask", "application/json", strings.NewReader(`{"question":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRules(t *testing.T) {
	ts, _ := newServer(t)
	resp, err := http.Get(ts.URL + "/v1/rules?type=" + strings.ReplaceAll(string(schema.DocArticlesOfAssociation), " ", "+"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rules []struct {
			ID            string                `json:"id"`
			DocumentTypes []schema.DocumentType `json:"document_types"`
		} `json:"rules"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Rules)
	for _, r := range body.Rules {
		assert.Contains(t, r.DocumentTypes, schema.DocArticlesOfAssociation)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newServer(t)
	upload(t, ts.URL+"/v1/analyze", map[string]string{"resolution.txt": resolution})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), `filingcheck_documents_analyzed_total{type="Board Resolution",verdict="COMPLIANT"} 1`)
}
