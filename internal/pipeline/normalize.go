package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/joblog"
	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

// Normalizer rewrites agent outputs into a consistent markdown shape and
// persists the normalized artifacts. All steps are idempotent.
type Normalizer struct {
	store store.Store
}

// NewNormalizer builds a Normalizer persisting artifacts to the given store.
func NewNormalizer(st store.Store) *Normalizer {
	return &Normalizer{store: st}
}

// NormalizeAll normalizes every output in place. A normalization problem on
// one file is recorded on that output and never stops the batch.
func (n *Normalizer) NormalizeAll(ctx context.Context, outputs []model.ParsedOutput, log *joblog.Logger) []model.ParsedOutput {
	for i := range outputs {
		n.normalizeOne(ctx, &outputs[i], log)
	}
	return outputs
}

func (n *Normalizer) normalizeOne(ctx context.Context, out *model.ParsedOutput, log *joblog.Logger) {
	out.Markdown = strings.TrimSpace(out.Markdown)
	out.Markdown = ensureTableSeparator(out.Markdown)
	out.Markdown = deduplicateConsecutiveLines(out.Markdown)
	out.WordCount = len(strings.Fields(out.Markdown))
	if out.Confidence > 1.0 {
		out.Confidence = 1.0
	}

	n.persist(ctx, out, log)
}

// persist stores the normalized markdown and metadata as artifacts. Storage
// failures are logged and swallowed; persistence is best effort here.
func (n *Normalizer) persist(ctx context.Context, out *model.ParsedOutput, log *joblog.Logger) {
	if n.store == nil {
		return
	}

	mdKey := NormalizedMarkdownKey(out.FileID)
	if err := n.store.PutArtifact(ctx, out.JobID, mdKey, "text/markdown", []byte(out.Markdown)); err != nil {
		zap.L().Warn("normalized markdown store failed",
			zap.String("file_id", out.FileID), zap.Error(err))
		return
	}

	meta, err := json.Marshal(out)
	if err == nil {
		metaKey := NormalizedMetadataKey(out.FileID)
		if err := n.store.PutArtifact(ctx, out.JobID, metaKey, "application/json", meta); err != nil {
			zap.L().Warn("normalized metadata store failed",
				zap.String("file_id", out.FileID), zap.Error(err))
		}
	}

	log.FileInfo("normalization", out.FileID,
		fmt.Sprintf("Stored normalized output (%d words)", out.WordCount))
}

// NormalizedMarkdownKey is the artifact key for a file's normalized markdown.
func NormalizedMarkdownKey(fileID string) string {
	return "parsed/" + fileID + "/content.md"
}

// NormalizedMetadataKey is the artifact key for a file's parsed metadata.
func NormalizedMetadataKey(fileID string) string {
	return "parsed/" + fileID + "/metadata.json"
}

var (
	tableRowPattern = regexp.MustCompile(`^\|.*\|$`)
	separatorRow    = regexp.MustCompile(`^\|[\s\-:|]+\|$`)
)

// ensureTableSeparator inserts a separator row after a table header when the
// source omitted it. Only the first row of a table is treated as a header.
func ensureTableSeparator(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var result []string

	for i, line := range lines {
		result = append(result, line)

		if !tableRowPattern.MatchString(strings.TrimSpace(line)) {
			continue
		}
		if i+1 >= len(lines) {
			continue
		}
		next := strings.TrimSpace(lines[i+1])
		if !tableRowPattern.MatchString(next) || separatorRow.MatchString(next) {
			continue
		}
		cols := strings.Count(line, "|") - 1
		if cols <= 0 {
			continue
		}
		if i > 0 && tableRowPattern.MatchString(strings.TrimSpace(lines[i-1])) {
			continue
		}
		parts := make([]string, cols)
		for c := range parts {
			parts[c] = "---"
		}
		result = append(result, "| "+strings.Join(parts, " | ")+" |")
	}
	return strings.Join(result, "\n")
}

// deduplicateConsecutiveLines removes identical consecutive lines, an
// artifact of some OCR responses.
func deduplicateConsecutiveLines(text string) string {
	lines := strings.Split(text, "\n")
	result := lines[:0:0]
	var prev string
	for i, line := range lines {
		if i == 0 || line != prev {
			result = append(result, line)
		}
		prev = line
	}
	return strings.Join(result, "\n")
}
