package agent

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/model"
)

const emptyMindmap = "# Empty Mind Map"

// MindmapAgent parses XMind and FreeMind files into an indented Markdown
// outline, then appends an LLM-generated study-context summary.
type MindmapAgent struct {
	deps Deps
}

func (a *MindmapAgent) Extract(ctx context.Context, task model.FileTask, data []byte) (*model.ParsedOutput, error) {
	out := newOutput(task, model.AgentMindmap)

	timed(out, func() {
		var md string
		switch task.Type {
		case model.FileTypeMindmapXMind:
			md = a.parseXMind(data, out)
		case model.FileTypeMindmapFreeMind:
			md = a.parseFreeMind(data, out)
		default:
			md = a.parseXMind(data, out)
			if md == emptyMindmap {
				md = a.parseFreeMind(data, out)
			}
		}

		parsed := md != emptyMindmap && strings.TrimSpace(md) != ""
		if !parsed {
			md = "# Unable to parse mind map"
			out.Warnings = append(out.Warnings, "No content could be extracted from the mind map file")
		}

		summary := ""
		if parsed {
			summary = a.summarize(ctx, md)
			if summary != "" {
				md += "\n\n## Mind Map Summary\n\n" + summary
			}
		}

		out.Markdown = md
		out.Structured = map[string]any{
			"mind_map_type": string(task.Type),
			"summary":       summary,
		}
		out.LCARelevant = IsLCARelevant(md)
		out.Confidence = 0.85
		if !parsed {
			out.Confidence = 0.2
		}
		out.WordCount = wordCount(md)
	})

	return out, nil
}

// xmindTopic is a node in XMind's content.json format.
type xmindTopic struct {
	Title    string `json:"title"`
	Children struct {
		Attached []xmindTopic `json:"attached"`
	} `json:"children"`
}

type xmindSheet struct {
	RootTopic xmindTopic `json:"rootTopic"`
}

// xmlTopic is a node in XMind's older content.xml format.
type xmlTopic struct {
	Title    string `xml:"title"`
	Children struct {
		Topics []struct {
			Topic []xmlTopic `xml:"topic"`
		} `xml:"topics"`
	} `xml:"children"`
}

type xmlContent struct {
	Sheets []struct {
		Topic xmlTopic `xml:"topic"`
	} `xml:"sheet"`
}

func (a *MindmapAgent) parseXMind(data []byte, out *model.ParsedOutput) string {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		out.Warnings = append(out.Warnings, "XMind parsing error: "+err.Error())
		return emptyMindmap
	}

	readEntry := func(name string) []byte {
		for _, f := range r.File {
			if f.Name == name {
				rc, err := f.Open()
				if err != nil {
					return nil
				}
				defer rc.Close() //nolint:errcheck
				content, _ := io.ReadAll(rc)
				return content
			}
		}
		return nil
	}

	if content := readEntry("content.json"); content != nil {
		var sheets []xmindSheet
		if err := json.Unmarshal(content, &sheets); err == nil && len(sheets) > 0 {
			return topicToMarkdown(sheets[0].RootTopic, 1)
		}
		out.Warnings = append(out.Warnings, "XMind content.json did not parse")
	}

	if content := readEntry("content.xml"); content != nil {
		var doc xmlContent
		if err := xml.Unmarshal(content, &doc); err == nil && len(doc.Sheets) > 0 {
			return xmlTopicToMarkdown(doc.Sheets[0].Topic, 1)
		}
		out.Warnings = append(out.Warnings, "XMind content.xml did not parse")
	}

	return emptyMindmap
}

func topicToMarkdown(topic xmindTopic, level int) string {
	title := topic.Title
	if title == "" {
		title = "Untitled"
	}
	md := outlineLine(title, level)
	for _, child := range topic.Children.Attached {
		md += topicToMarkdown(child, level+1)
	}
	return md
}

func xmlTopicToMarkdown(topic xmlTopic, level int) string {
	title := topic.Title
	if title == "" {
		title = "Untitled"
	}
	md := outlineLine(title, level)
	for _, group := range topic.Children.Topics {
		for _, child := range group.Topic {
			md += xmlTopicToMarkdown(child, level+1)
		}
	}
	return md
}

// freemindNode is a node in FreeMind's .mm XML format.
type freemindNode struct {
	Text     string         `xml:"TEXT,attr"`
	Children []freemindNode `xml:"node"`
}

type freemindMap struct {
	XMLName xml.Name       `xml:"map"`
	Nodes   []freemindNode `xml:"node"`
}

func (a *MindmapAgent) parseFreeMind(data []byte, out *model.ParsedOutput) string {
	var doc freemindMap
	if err := xml.Unmarshal(data, &doc); err != nil || len(doc.Nodes) == 0 {
		if err != nil {
			out.Warnings = append(out.Warnings, "FreeMind parsing error: "+err.Error())
		}
		return emptyMindmap
	}
	return freemindToMarkdown(doc.Nodes[0], 1)
}

func freemindToMarkdown(node freemindNode, level int) string {
	md := outlineLine(node.Text, level)
	for _, child := range node.Children {
		md += freemindToMarkdown(child, level+1)
	}
	return md
}

func outlineLine(title string, level int) string {
	if level == 1 {
		return fmt.Sprintf("# %s\n", title)
	}
	indent := strings.Repeat("  ", level-2)
	return fmt.Sprintf("%s- %s\n", indent, title)
}

// summarize produces a study-context summary of the outline. Failures are
// swallowed; the outline stands alone.
func (a *MindmapAgent) summarize(ctx context.Context, md string) string {
	const limit = 6000
	content := md
	if len(content) > limit {
		content = content[:limit]
	}

	system := "You are an LCA expert. Provide a concise analysis summary."
	prompt := "This is a mind map from an LCA study. Summarise the key topics, identify any LCA-specific nodes (impact categories, processes, life cycle stages, methodologies), and flag missing standard LCA components.\n\nMind map content:\n" + content

	text, usage, err := a.deps.callModel(ctx, a.deps.HaikuModel, system, prompt, nil)
	if err != nil {
		zap.L().Warn("mindmap: summary generation failed", zap.Error(err))
		return ""
	}
	usage.LogCost(a.deps.HaikuModel, "mindmap_summary")
	return strings.TrimSpace(text)
}
