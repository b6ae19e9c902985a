package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/pkg/claude"
)

// visionMinConfidence is the 1-5 classification score below which an
// extraction is flagged for review.
const visionMinConfidence = 3

// VisionAgent analyzes standalone images in two passes: classify the visual
// type, then run a type-specific extraction.
type VisionAgent struct {
	deps Deps
}

type imageClassification struct {
	VisualType       string `json:"visual_type"`
	Confidence       int    `json:"confidence"`
	BriefDescription string `json:"brief_description"`
}

func (a *VisionAgent) Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error) {
	mediaType := imageMediaType(data)
	if mediaType == "" {
		return nil, eris.Errorf("vision: unsupported image format for %s", task.Name)
	}
	attachment := &claude.ImageAttachment{
		MediaType:  mediaType,
		Base64Data: base64.StdEncoding.EncodeToString(data),
	}

	out := newOutput(task, model.AgentVision)
	var extractErr error
	timed(out, func() {
		cls, err := a.classify(ctx, attachment)
		if err != nil {
			extractErr = eris.Wrapf(err, "vision: classify %s", task.Name)
			return
		}

		lowConfidence := cls.Confidence < visionMinConfidence
		if lowConfidence {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"Low confidence classification (%d/5). Result flagged for human review.", cls.Confidence))
		}

		extraction, err := a.extractContent(ctx, attachment, cls.VisualType)
		if err != nil {
			extractErr = eris.Wrapf(err, "vision: extract %s", task.Name)
			return
		}

		parts := []string{
			fmt.Sprintf("# Image Analysis: %s\n", task.Name),
			fmt.Sprintf("**Visual Type:** %s", cls.VisualType),
			fmt.Sprintf("**Description:** %s", cls.BriefDescription),
			fmt.Sprintf("**Classification Confidence:** %d/5\n", cls.Confidence),
			"## Extracted Content\n",
			extraction,
		}
		if lowConfidence {
			parts = append(parts, "\n\n> **Warning:** This extraction has low confidence and should be reviewed by a human analyst.")
			out.LowConfidencePages = []int{1}
		}

		md := strings.Join(parts, "\n")
		out.Markdown = md
		out.Structured = map[string]any{
			"visual_type":               cls.VisualType,
			"classification_confidence": cls.Confidence,
			"brief_description":         cls.BriefDescription,
			"low_confidence":            lowConfidence,
		}
		out.LCARelevant = true // relevance is judged downstream
		out.Confidence = float64(cls.Confidence) / 5.0
		out.WordCount = wordCount(md)
	})
	if extractErr != nil {
		return nil, extractErr
	}

	return out, nil
}

func (a *VisionAgent) classify(ctx context.Context, img *claude.ImageAttachment) (*imageClassification, error) {
	system := "You classify technical imagery from life cycle assessment studies. Respond with a single valid JSON object only."
	prompt := `Classify this image. Respond with JSON: {"visual_type": one of "chart", "table", "diagram", "flowchart", "mind_map", "photo", "screenshot", "other", "confidence": 1-5, "brief_description": string}`

	text, usage, err := a.deps.callModel(ctx, a.deps.HaikuModel, system, prompt, img)
	if err != nil {
		return nil, err
	}
	usage.LogCost(a.deps.HaikuModel, "image_classify")

	cls := &imageClassification{VisualType: "other", Confidence: 3}
	if err := claude.ParseJSON(text, cls); err != nil {
		return nil, err
	}
	if cls.Confidence < 1 {
		cls.Confidence = 1
	}
	if cls.Confidence > 5 {
		cls.Confidence = 5
	}
	return cls, nil
}

func (a *VisionAgent) extractContent(ctx context.Context, img *claude.ImageAttachment, visualType string) (string, error) {
	var prompt string
	switch visualType {
	case "chart":
		prompt = "Extract all data from this chart: axis labels, units, series names, and every readable data point. Present numeric data as a Markdown table."
	case "table":
		prompt = "Transcribe this table exactly as a Markdown table, preserving all values and units."
	case "diagram", "flowchart":
		prompt = "Describe this diagram: list every node, its label, and the connections between nodes. Note any quantities or units shown."
	case "mind_map":
		prompt = "Transcribe this mind map as a nested Markdown bullet list, preserving the hierarchy."
	default:
		prompt = "Describe this image in detail, transcribing any visible text, numbers, and units."
	}

	text, usage, err := a.deps.callModel(ctx, a.deps.SonnetModel, "", prompt, img)
	if err != nil {
		return "", err
	}
	usage.LogCost(a.deps.SonnetModel, "image_extract")
	return text, nil
}

// imageMediaType sniffs the media type the API requires for inline images.
func imageMediaType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	return ""
}
