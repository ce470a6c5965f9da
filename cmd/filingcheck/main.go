package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/dshills/filingcheck/internal/analysis"
	"github.com/dshills/filingcheck/internal/answer"
	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/config"
	"github.com/dshills/filingcheck/internal/document"
	"github.com/dshills/filingcheck/internal/knowledge"
	"github.com/dshills/filingcheck/internal/llm"
	"github.com/dshills/filingcheck/internal/metrics"
	"github.com/dshills/filingcheck/internal/patch"
	"github.com/dshills/filingcheck/internal/render"
	"github.com/dshills/filingcheck/internal/review"
	"github.com/dshills/filingcheck/internal/schema"
	"github.com/dshills/filingcheck/internal/server"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes.
const (
	exitFailOn   = 2
	exitInput    = 3
	exitProvider = 4
	exitRuntime  = 5
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags are shared by every command. Zero values leave the
// configuration untouched.
type globalFlags struct {
	config  string
	verbose bool
	model   string
	offline bool
	workers int
	kbDir   string
	catalog string
}

type analyzeFlags struct {
	format            string
	out               string
	failOn            string
	severityThreshold string
	patchOut          string
	metricsOut        string
}

type askFlags struct {
	format string
	out    string
	topK   int
}

type rulesFlags struct {
	docType string
}

type serveFlags struct {
	addr string
}

// env holds what every command needs once configuration is resolved.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	catalog *catalog.Catalog
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:          "filingcheck",
		Short:        "Review ADGM corporate filings for compliance",
		Long:         "filingcheck analyzes company incorporation documents against the ADGM rule catalog and answers questions from an ADGM knowledge base.",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "Config file (default ./"+config.DefaultFile+" if present)")
	pf.BoolVar(&g.verbose, "verbose", false, "Log processing steps to stderr at debug level")
	pf.StringVar(&g.model, "model", "", "Completion model as provider:model (overrides FILINGCHECK_MODEL)")
	pf.BoolVar(&g.offline, "offline", false, "Never call a completion provider; answers come from templates only")
	pf.IntVar(&g.workers, "workers", 0, "Documents analyzed concurrently")
	pf.StringVar(&g.kbDir, "kb-dir", "", "Directory of extra .md/.txt knowledge-base files")
	pf.StringVar(&g.catalog, "catalog", "", "Rule catalog YAML file (default built-in ADGM catalog)")

	var af analyzeFlags
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file|dir|glob>...",
		Short: "Analyze filings and produce a compliance review",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args, g, af, cmd.OutOrStdout())
		},
	}
	f := analyzeCmd.Flags()
	f.StringVar(&af.format, "format", "json", "Output format: json, md or csv")
	f.StringVar(&af.out, "out", "", "Write output to file instead of stdout")
	f.StringVar(&af.failOn, "fail-on", "", "Exit 2 if any document verdict >= this level (NEEDS_REVIEW, NON_COMPLIANT or FAILED)")
	f.StringVar(&af.severityThreshold, "severity-threshold", "Low", "Minimum red-flag severity to emit: Low, Medium, High or Critical")
	f.StringVar(&af.patchOut, "patch-out", "", "Write suggested fixes in diff-match-patch format to this file")
	f.StringVar(&af.metricsOut, "metrics-out", "", "Write Prometheus metrics for this run to a textfile")

	var qf askFlags
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about ADGM filing requirements",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), g, qf, cmd.OutOrStdout())
		},
	}
	askCmd.Flags().StringVar(&qf.format, "format", "md", "Output format: json, md or csv")
	askCmd.Flags().StringVar(&qf.out, "out", "", "Write output to file instead of stdout")
	askCmd.Flags().IntVar(&qf.topK, "top-k", 0, "Passages retrieved per question")

	var rf rulesFlags
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate the rule catalog and list its rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(g, rf, cmd.OutOrStdout())
		},
	}
	rulesCmd.Flags().StringVar(&rf.docType, "type", "", "Only list rules for this document type")

	var sf serveFlags
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis and question API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g, sf)
		},
	}
	serveCmd.Flags().StringVar(&sf.addr, "addr", "", "Listen address (default from config, :8080)")

	root.AddCommand(analyzeCmd, askCmd, rulesCmd, serveCmd)
	return root
}

// setup resolves configuration (defaults, file, environment, flags), the
// logger and the catalog.
func setup(g globalFlags) (*env, error) {
	cfg, err := config.Load(g.config, os.Getenv)
	if err != nil {
		return nil, codeError(exitInput, "loading config: %s", err)
	}
	if g.model != "" {
		cfg.Model.Name = g.model
	}
	if g.workers > 0 {
		cfg.Analysis.Workers = g.workers
	}
	if g.kbDir != "" {
		cfg.Knowledge.Dir = g.kbDir
	}
	if g.catalog != "" {
		cfg.Analysis.Catalog = g.catalog
	}
	if err := cfg.Validate(); err != nil {
		return nil, codeError(exitInput, "invalid config: %s", err)
	}

	log := cfg.NewLogger(os.Stderr, g.verbose)
	slog.SetDefault(log)

	var cat *catalog.Catalog
	if cfg.Analysis.Catalog != "" {
		cat, err = catalog.LoadFile(cfg.Analysis.Catalog)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, codeError(exitInput, "loading catalog: %s", err)
	}
	return &env{cfg: cfg, log: log, catalog: cat}, nil
}

func runAnalyze(ctx context.Context, args []string, g globalFlags, flags analyzeFlags, stdout io.Writer) error {
	if err := validateAnalyzeFlags(flags); err != nil {
		return codeError(exitInput, "invalid flags: %s", err)
	}
	e, err := setup(g)
	if err != nil {
		return err
	}

	paths, err := expandInputs(args)
	if err != nil {
		return codeError(exitInput, "%s", err)
	}
	e.log.Debug("analyzing documents", "count", len(paths), "workers", e.cfg.Analysis.Workers)

	jobs := make([]analysis.Job, len(paths))
	for i, p := range paths {
		jobs[i] = analysis.Job{
			Name: filepath.Base(p),
			Parse: func(context.Context) (*schema.Document, error) {
				return document.LoadFile(e.catalog, p)
			},
		}
	}

	engine := analysis.Engine{
		Catalog: e.catalog,
		Workers: e.cfg.Analysis.Workers,
		Logger:  e.log,
		Progress: func(s schema.SessionAnalysis) {
			e.log.Debug("progress", "done", len(s.Documents), "total", len(jobs))
		},
	}
	var m *metrics.Metrics
	if flags.metricsOut != "" {
		m = metrics.New()
		engine.Observer = m
	}

	session, err := engine.Run(ctx, analysis.NewSession(e.catalog), jobs)
	if err != nil {
		return codeError(exitRuntime, "analysis interrupted: %s", err)
	}

	if flags.patchOut != "" {
		e.log.Debug("writing suggested fixes", "path", flags.patchOut)
		diffText := patch.ForSession(session, os.Stderr)
		if err := os.WriteFile(flags.patchOut, []byte(diffText), 0o644); err != nil {
			e.log.Warn("patch write failed", "error", err)
		}
	}
	if m != nil {
		if err := m.WriteTextfile(flags.metricsOut); err != nil {
			e.log.Warn("metrics write failed", "error", err)
		}
	}

	// Verdicts and statistics reflect every red flag; the threshold only
	// filters what is emitted.
	threshold, _ := schema.ParseSeverity(flags.severityThreshold)
	report := render.NewReport(version, filterSession(session, threshold))

	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(exitInput, "invalid format: %s", err)
	}
	out, err := renderer.Render(report)
	if err != nil {
		return codeError(exitRuntime, "rendering output: %s", err)
	}
	if err := writeOutput(flags.out, out, stdout); err != nil {
		return err
	}

	if flags.failOn != "" {
		threshold := schema.Verdict(flags.failOn)
		if worst := worstVerdict(session); schema.VerdictOrdinal(worst) >= schema.VerdictOrdinal(threshold) {
			return codeError(exitFailOn, "verdict %s meets or exceeds --fail-on threshold %s", worst, threshold)
		}
	}
	return nil
}

func runAsk(ctx context.Context, question string, g globalFlags, flags askFlags, stdout io.Writer) error {
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(exitInput, "invalid format: %s", err)
	}
	e, err := setup(g)
	if err != nil {
		return err
	}

	store, err := knowledge.Load(e.cfg.Knowledge.Dir, knowledge.WithFloor(e.cfg.Knowledge.Floor))
	if err != nil {
		return codeError(exitInput, "loading knowledge base: %s", err)
	}
	e.log.Debug("knowledge base loaded", "chunks", store.Len())

	assistant := &answer.Assistant{
		Retriever:   store,
		Catalog:     e.catalog,
		TopK:        e.cfg.Knowledge.TopK,
		Temperature: e.cfg.Model.Temperature,
		Logger:      e.log,
	}
	if flags.topK > 0 {
		assistant.TopK = flags.topK
	}
	if assistant.Provider, err = newProvider(e.cfg, g.offline); err != nil {
		return err
	}

	ans, err := assistant.AnswerQuestion(ctx, question)
	if errors.Is(err, answer.ErrEmptyQuestion) {
		return codeError(exitInput, "%s", err)
	}
	if err != nil {
		return codeError(exitRuntime, "%s", err)
	}

	out, err := renderer.RenderAnswer(&ans)
	if err != nil {
		return codeError(exitRuntime, "rendering output: %s", err)
	}
	return writeOutput(flags.out, out, stdout)
}

func runRules(g globalFlags, flags rulesFlags, stdout io.Writer) error {
	e, err := setup(g)
	if err != nil {
		return err
	}
	rules := e.catalog.Rules
	if flags.docType != "" {
		rules = e.catalog.RulesFor(schema.DocumentType(flags.docType))
		if len(rules) == 0 {
			return codeError(exitInput, "no rules for document type %q", flags.docType)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("catalog %s: %d rules, %d required documents\n", e.catalog.Version, len(e.catalog.Rules), len(e.catalog.RequiredDocuments)))
	for _, r := range rules {
		sb.WriteString(fmt.Sprintf("%-8s %-8s %s\n", r.ID, r.Severity, r.Description))
	}
	_, err = io.WriteString(stdout, sb.String())
	return err
}

func runServe(ctx context.Context, g globalFlags, flags serveFlags) error {
	e, err := setup(g)
	if err != nil {
		return err
	}
	store, err := knowledge.Load(e.cfg.Knowledge.Dir, knowledge.WithFloor(e.cfg.Knowledge.Floor))
	if err != nil {
		return codeError(exitInput, "loading knowledge base: %s", err)
	}
	provider, err := newProvider(e.cfg, g.offline)
	if err != nil {
		return err
	}

	m := metrics.New()
	srv := server.New(server.Options{
		Catalog: e.catalog,
		Workers: e.cfg.Analysis.Workers,
		Assistant: &answer.Assistant{
			Retriever:   store,
			Provider:    provider,
			Catalog:     e.catalog,
			TopK:        e.cfg.Knowledge.TopK,
			Temperature: e.cfg.Model.Temperature,
			Logger:      e.log,
			Observer:    m,
		},
		Metrics:        m,
		Logger:         e.log,
		Version:        version,
		MaxUploadBytes: e.cfg.Server.MaxUploadBytes,
	})

	addr := e.cfg.Server.Addr
	if flags.addr != "" {
		addr = flags.addr
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	e.log.Info("listening", "addr", addr)

	select {
	case <-ctx.Done():
		e.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return codeError(exitRuntime, "shutdown: %s", err)
		}
		return nil
	case err := <-errCh:
		return codeError(exitRuntime, "server error: %s", err)
	}
}

// newProvider returns the configured completion provider, or nil when none is
// configured or offline is set.
func newProvider(cfg *config.Config, offline bool) (llm.Provider, error) {
	if offline || cfg.Model.Name == "" {
		return nil, nil
	}
	p, err := llm.NewProvider(cfg.Model.Name, llm.WithTimeout(cfg.Model.Timeout))
	if err != nil {
		return nil, codeError(exitProvider, "creating LLM provider: %s", err)
	}
	return p, nil
}

// expandInputs turns file, directory and glob arguments into a de-duplicated
// list of document paths in argument order. Explicit paths are kept even when
// they do not exist or are unsupported; a glob that matches nothing is an
// error.
func expandInputs(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			matches, err := doublestar.FilepathGlob(filepath.Join(arg, "**", "*.{txt,md,markdown,docx}"))
			if err != nil {
				return nil, fmt.Errorf("scanning %s: %w", arg, err)
			}
			for _, m := range matches {
				add(m)
			}
		case err == nil:
			// Unsupported files are reported per document, not rejected here.
			add(arg)
		case !hasMeta(arg):
			// A missing path is recorded as a failed document.
			add(arg)
		default:
			matches, gerr := doublestar.FilepathGlob(arg)
			if gerr != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", arg, gerr)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no documents match %q", arg)
			}
			for _, m := range matches {
				if document.Supported(m) {
					add(m)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no supported documents found")
	}
	return out, nil
}

// hasMeta reports whether path contains glob syntax.
func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// filterSession returns a copy of session whose documents carry only red
// flags at or above threshold.
func filterSession(session schema.SessionAnalysis, threshold schema.Severity) schema.SessionAnalysis {
	docs := make([]schema.DocumentAnalysis, len(session.Documents))
	for i, d := range session.Documents {
		d.Report.RedFlags = review.FilterBySeverity(d.Report.RedFlags, threshold)
		docs[i] = d
	}
	session.Documents = docs
	return session
}

func worstVerdict(session schema.SessionAnalysis) schema.Verdict {
	worst := schema.VerdictCompliant
	for _, d := range session.Documents {
		if schema.VerdictOrdinal(d.Report.Verdict) > schema.VerdictOrdinal(worst) {
			worst = d.Report.Verdict
		}
	}
	return worst
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return codeError(exitInput, "writing output file: %s", err)
		}
		return nil
	}
	if _, err := stdout.Write(data); err != nil {
		return codeError(exitInput, "writing output: %s", err)
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(stdout)
	}
	return nil
}

// validateAnalyzeFlags returns an error if any flag value is invalid.
func validateAnalyzeFlags(flags analyzeFlags) error {
	switch flags.format {
	case "json", "md", "csv":
	default:
		return fmt.Errorf("--format must be json, md or csv, got %q", flags.format)
	}

	if flags.failOn != "" {
		switch schema.Verdict(flags.failOn) {
		case schema.VerdictNeedsReview, schema.VerdictNonCompliant, schema.VerdictFailed:
		default:
			return fmt.Errorf("--fail-on must be NEEDS_REVIEW, NON_COMPLIANT or FAILED, got %q", flags.failOn)
		}
	}

	if _, err := schema.ParseSeverity(flags.severityThreshold); err != nil {
		return fmt.Errorf("--severity-threshold: %w", err)
	}
	return nil
}
