package analysis

// Result is the normalized analysis document every backend response is mapped into.
type Result struct {
	Quality   Quality        `json:"quality"`
	Anomalies AnomalySummary `json:"anomalies"`
	Bias      BiasSummary    `json:"bias"`
	Insights  []Insight      `json:"insights"`
	Dataset   DatasetStats   `json:"dataset"`

	// Source names the normalizer (or "fallback") that produced the document.
	Source         string `json:"source"`
	Synthetic      bool   `json:"synthetic"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Quality scores, all in [0,100].
type Quality struct {
	Overall      float64 `json:"overall"`
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Validity     float64 `json:"validity"`
}

type AnomalySummary struct {
	Total    int             `json:"total"`
	Critical int             `json:"critical"`
	Moderate int             `json:"moderate"`
	Warning  int             `json:"warning"`
	Findings []ColumnFinding `json:"findings"`
}

type ColumnFinding struct {
	Column   string `json:"column,omitempty"`
	Row      *int   `json:"row,omitempty"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type BiasSummary struct {
	Overall float64     `json:"overall"`
	Scores  []BiasScore `json:"scores"`
}

type BiasScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Status string  `json:"status"`
}

type Insight struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
}

// DatasetStats carries shape information when the backend reports it.
type DatasetStats struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

const (
	FallbackPollExhausted  = "poll_exhausted"
	FallbackAnalysisFailed = "analysis_failed"

	FallbackQualityScore = 85
	SourceFallback       = "fallback"
)

// Fallback returns the deterministic synthetic result used when the remote
// analysis never produced one. Same reason, same document.
func Fallback(reason string) Result {
	return Result{
		Quality: Quality{
			Overall:      FallbackQualityScore,
			Completeness: 90,
			Consistency:  85,
			Accuracy:     85,
			Validity:     80,
		},
		Anomalies: AnomalySummary{Findings: []ColumnFinding{}},
		Bias: BiasSummary{
			Overall: 85,
			Scores:  []BiasScore{{Name: "representation", Score: 85, Status: "unverified"}},
		},
		Insights: []Insight{{
			Type:        "warning",
			Title:       "Analysis unavailable",
			Description: "The analysis service did not return a result; scores are placeholders.",
			Action:      "Re-submit the dataset to obtain a measured analysis.",
		}},
		Source:         SourceFallback,
		Synthetic:      true,
		FallbackReason: reason,
	}
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
