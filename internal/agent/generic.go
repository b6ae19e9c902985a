package agent

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// GenericAgent is the catch-all for document formats without a dedicated
// agent: DOCX, PPTX, plain text, and anything routing could not place. It
// extracts whatever text it can and asks the model to surface key sections.
type GenericAgent struct {
	deps Deps
}

type docSection struct {
	SectionTitle   string `json:"section_title"`
	Content        string `json:"content"`
	RelevanceScore int    `json:"relevance_score"`
}

func (a *GenericAgent) Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error) {
	out := newOutput(task, model.AgentGeneric)

	timed(out, func() {
		md := extractPlainText(task, data)
		if md == "" {
			md = "# Unable to extract content from " + task.Name
			out.Markdown = md
			out.Structured = map[string]any{"sections": []any{}, "key_sections": []any{}}
			out.LCARelevant = true
			out.Confidence = 0.1
			out.WordCount = wordCount(md)
			return
		}

		structured := map[string]any{"sections": []any{}, "key_sections": []any{}}
		if len(md) > 50 {
			keySections, allSections := a.detectKeySections(ctx, md)
			structured["sections"] = allSections
			structured["key_sections"] = keySections

			if len(keySections) > 0 {
				var parts []string
				for _, s := range keySections {
					parts = append(parts, "## "+s.SectionTitle+"\n\n"+s.Content)
				}
				md = "# Key Content from " + task.Name + "\n\n" +
					strings.Join(parts, "\n\n") +
					"\n\n---\n\n# Full Document Content\n\n" + md
			}
		}

		out.Markdown = md
		out.Structured = structured
		out.LCARelevant = true // relevance is judged downstream
		out.Confidence = 0.75
		out.WordCount = wordCount(md)
	})

	return out, nil
}

// detectKeySections asks the model to rank document sections; failures yield
// empty slices and the full text stands alone.
func (a *GenericAgent) detectKeySections(ctx context.Context, md string) ([]docSection, []docSection) {
	const limit = 8000
	text := md
	if len(text) > limit {
		text = text[:limit]
	}

	system := "You are a document analyst. Return ONLY a JSON array, no explanation."
	prompt := "Identify and extract the most important sections from this document. " +
		"Return a JSON array of objects with keys: section_title, content (brief excerpt), " +
		"relevance_score (0-10). Only include sections with relevance >= 5.\n\nDocument:\n" + text

	resp, usage, err := a.deps.callModel(ctx, a.deps.HaikuModel, system, prompt, nil)
	if err != nil {
		zap.L().Warn("generic: section detection failed", zap.Error(err))
		return nil, nil
	}
	usage.LogCost(a.deps.HaikuModel, "section_detection")

	var sections []docSection
	if err := claude.ParseJSON(resp, &sections); err != nil {
		zap.L().Warn("generic: section response did not parse", zap.Error(err))
		return nil, nil
	}

	var key []docSection
	for _, s := range sections {
		if s.RelevanceScore >= 5 {
			key = append(key, s)
		}
	}
	return key, sections
}

// extractPlainText pulls readable text out of the supported container formats.
func extractPlainText(task model.FileTask, data []byte) string {
	switch task.Type {
	case model.FileTypeDocx:
		return extractOOXMLText(data, func(name string) bool {
			return name == "word/document.xml"
		})
	case model.FileTypePptx:
		return extractOOXMLText(data, func(name string) bool {
			return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
		})
	case model.FileTypeText:
		return strings.TrimSpace(string(data))
	default:
		if utf8.Valid(data) {
			return strings.TrimSpace(string(data))
		}
		return ""
	}
}

// extractOOXMLText concatenates the character data of the matching archive
// entries, emitting a newline at each paragraph boundary.
func extractOOXMLText(data []byte, match func(name string) bool) string {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}

	var names []string
	for _, f := range r.File {
		if match(f.Name) {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		for _, f := range r.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				continue
			}
			content, _ := io.ReadAll(rc)
			rc.Close() //nolint:errcheck
			writeXMLText(&sb, content)
		}
	}
	return strings.TrimSpace(sb.String())
}

func writeXMLText(sb *strings.Builder, content []byte) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteByte('\n')
			}
		}
	}
}
