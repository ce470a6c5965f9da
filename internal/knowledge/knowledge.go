// Package knowledge holds the regulatory knowledge base used to ground
// answers: markdown documents chunked by heading and ranked by TF-IDF cosine
// similarity.
package knowledge

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/filingcheck/internal/schema"
)

//go:embed kb/*.md
var builtin embed.FS

// DefaultFloor is the minimum similarity a chunk needs to be returned.
const DefaultFloor = 0.05

// maxChunkRunes bounds chunk size; longer sections are split by paragraph.
const maxChunkRunes = 1500

var (
	referenceLine = regexp.MustCompile(`(?im)^reference:\s*(.+?)\s*$`)
	wordPattern   = regexp.MustCompile(`[a-z0-9]+`)
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"can": true, "do": true, "does": true, "for": true, "from": true, "has": true, "have": true,
	"how": true, "i": true, "if": true, "in": true, "is": true, "it": true, "its": true, "must": true,
	"my": true, "of": true, "on": true, "or": true, "our": true, "should": true, "that": true,
	"the": true, "their": true, "this": true, "to": true, "under": true, "we": true, "what": true,
	"when": true, "which": true, "who": true, "with": true,
}

type entry struct {
	chunk  schema.Chunk
	weight map[string]float64
	norm   float64
}

// Store is an in-memory retrieval index. It is read-only after construction
// and safe for concurrent use.
type Store struct {
	entries []entry
	idf     map[string]float64
	floor   float64
}

// Option configures a Store.
type Option func(*Store)

// WithFloor sets the relevance floor.
func WithFloor(f float64) Option {
	return func(s *Store) { s.floor = f }
}

// Document is one knowledge-base source.
type Document struct {
	Source  string
	Content string
}

// New indexes docs.
func New(docs []Document, opts ...Option) *Store {
	s := &Store{floor: DefaultFloor, idf: make(map[string]float64)}
	for _, o := range opts {
		o(s)
	}

	var chunks []schema.Chunk
	for _, d := range docs {
		chunks = append(chunks, Chunk(d.Source, d.Content)...)
	}

	df := make(map[string]int)
	tfs := make([]map[string]float64, len(chunks))
	for i, c := range chunks {
		tfs[i] = termFrequencies(c.Text)
		for term := range tfs[i] {
			df[term]++
		}
	}
	n := float64(len(chunks))
	for term, d := range df {
		s.idf[term] = math.Log(1 + n/float64(d))
	}
	for i, c := range chunks {
		w, norm := s.vector(tfs[i])
		s.entries = append(s.entries, entry{chunk: c, weight: w, norm: norm})
	}
	return s
}

// Load indexes the built-in knowledge base plus every .md and .txt file
// under dir. An empty dir loads the built-in base only.
func Load(dir string, opts ...Option) (*Store, error) {
	docs, err := readFS(builtin, "kb")
	if err != nil {
		return nil, err
	}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("knowledge base directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("knowledge base %q is not a directory", dir)
		}
		extra, err := readFS(os.DirFS(dir), ".")
		if err != nil {
			return nil, err
		}
		docs = append(docs, extra...)
	}
	return New(docs, opts...), nil
}

func readFS(fsys fs.FS, root string) ([]Document, error) {
	matches, err := doublestar.Glob(fsys, path.Join(root, "**/*.{md,txt}"))
	if err != nil {
		return nil, fmt.Errorf("listing knowledge base: %w", err)
	}
	sort.Strings(matches)
	docs := make([]Document, 0, len(matches))
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("reading knowledge base file %q: %w", m, err)
		}
		docs = append(docs, Document{Source: strings.TrimPrefix(m, root+"/"), Content: string(data)})
	}
	return docs, nil
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int { return len(s.entries) }

// Retrieve returns up to topK chunks whose similarity to query reaches the
// relevance floor, most similar first. No match yields an empty slice.
func (s *Store) Retrieve(ctx context.Context, query string, topK int) ([]schema.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []schema.Chunk{}
	if topK <= 0 {
		return out, nil
	}

	q, qnorm := s.vector(termFrequencies(query))
	if qnorm == 0 {
		return out, nil
	}

	type scored struct {
		idx int
		sim float64
	}
	var hits []scored
	for i, e := range s.entries {
		if e.norm == 0 {
			continue
		}
		dot := 0.0
		for term, w := range q {
			dot += w * e.weight[term]
		}
		if sim := dot / (qnorm * e.norm); sim >= s.floor && sim > 0 {
			hits = append(hits, scored{idx: i, sim: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })

	for _, h := range hits {
		if len(out) == topK {
			break
		}
		c := s.entries[h.idx].chunk
		c.Similarity = h.sim
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) vector(tf map[string]float64) (map[string]float64, float64) {
	w := make(map[string]float64, len(tf))
	sum := 0.0
	for term, f := range tf {
		idf, ok := s.idf[term]
		if !ok {
			continue
		}
		v := f * idf
		w[term] = v
		sum += v * v
	}
	return w, math.Sqrt(sum)
}

func termFrequencies(text string) map[string]float64 {
	tf := make(map[string]float64)
	total := 0
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[tok] {
			continue
		}
		tf[tok]++
		total++
	}
	for term := range tf {
		tf[term] /= float64(total)
	}
	return tf
}

// Chunk splits a markdown document at its headings. Each chunk keeps its
// heading line, and a "Reference:" line sets the chunk's reference.
func Chunk(source, content string) []schema.Chunk {
	var chunks []schema.Chunk
	var cur []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, "\n"))
		cur = cur[:0]
		if text == "" {
			return
		}
		ref := ""
		if m := referenceLine.FindStringSubmatch(text); m != nil {
			ref = m[1]
		}
		for _, part := range splitLong(text) {
			chunks = append(chunks, schema.Chunk{Text: part, Source: source, Reference: ref})
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return chunks
}

func splitLong(text string) []string {
	if len([]rune(text)) <= maxChunkRunes {
		return []string{text}
	}
	var parts []string
	var b strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		if b.Len() > 0 && len([]rune(b.String()))+len([]rune(para)) > maxChunkRunes {
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}
