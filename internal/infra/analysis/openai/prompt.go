package openai

import (
	"fmt"
	"strings"
)

// systemPrompt pins the model to the canonical result document.
func systemPrompt() string {
	return `You are a senior data quality analyst. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- All scores are numbers between 0 and 100.
- anomalies.total must equal anomalies.critical + anomalies.moderate + anomalies.warning.
- Use lowercase severity values: critical, moderate, warning.
- bias.scores names the attribute checked (for example gender, age, region) with status one of: good, warning, poor.
- insights.type is one of: summary, finding, quality, recommendation. Keep items concise.
- You only see a sample of the file. Judge conservatively and say so in an insight when the sample is small.

Schema (example with empty values):
{
  "quality": {"overall": 0, "completeness": 0, "consistency": 0, "accuracy": 0, "validity": 0},
  "anomalies": {
    "total": 0, "critical": 0, "moderate": 0, "warning": 0,
    "findings": [{"column": "<string>", "row": 0, "type": "<string>", "severity": "<critical|moderate|warning>", "message": "<string>"}]
  },
  "bias": {"overall": 0, "scores": [{"name": "<string>", "score": 0, "status": "<good|warning|poor>"}]},
  "insights": [{"type": "<string>", "title": "<string>", "description": "<string>", "action": "<string>"}],
  "dataset": {"rows": 0, "columns": 0}
}`
}

// userPrompt wraps the sampled content and the locally computed profile.
func userPrompt(name, mimeType string, size int64, p profile, sample string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this dataset and respond with the JSON per schema.\n")
	fmt.Fprintf(&b, "File: %s (%s, %d bytes)\n", name, mimeType, size)
	if p.Columns > 0 {
		fmt.Fprintf(&b, "Sampled rows: %d, columns: %d, empty cells: %.1f%%\n", p.Rows, p.Columns, p.EmptyRatio*100)
		if len(p.Header) > 0 {
			fmt.Fprintf(&b, "Columns: %s\n", strings.Join(p.Header, ", "))
		}
	}
	if p.Truncated {
		b.WriteString("The sample below is truncated.\n")
	}
	b.WriteString("Sample:\n")
	b.WriteString(sample)
	return b.String()
}
