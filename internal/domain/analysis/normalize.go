package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownShape means no normalizer recognized the response document.
var ErrUnknownShape = errors.New("unrecognized analysis response shape")

const (
	ShapeCanonical = "canonical"
	ShapePipeline  = "pipeline"
	ShapeFlat      = "flat"
)

// Normalizer maps one native response shape into Result.
type Normalizer interface {
	Shape() string
	Match(fields map[string]json.RawMessage) bool
	Normalize(raw []byte) (Result, error)
}

var normalizers = []Normalizer{canonicalShape{}, pipelineShape{}, flatShape{}}

// Normalize detects the shape of raw and normalizes it.
func Normalize(raw []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Result{}, fmt.Errorf("decode analysis response: %w", err)
	}
	for _, n := range normalizers {
		if !n.Match(fields) {
			continue
		}
		res, err := n.Normalize(raw)
		if err != nil {
			return Result{}, fmt.Errorf("normalize %s response: %w", n.Shape(), err)
		}
		if res.Source == "" {
			res.Source = n.Shape()
		}
		return res, nil
	}
	return Result{}, ErrUnknownShape
}

//
// ==== canonical ====
//

type canonicalShape struct{}

func (canonicalShape) Shape() string { return ShapeCanonical }

func (canonicalShape) Match(f map[string]json.RawMessage) bool {
	q, ok := f["quality"]
	if !ok {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(q, &fields); err != nil {
		return false
	}
	_, ok = fields["overall"]
	return ok
}

func (canonicalShape) Normalize(raw []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, err
	}
	r.Quality = clampQuality(r.Quality)
	r.Bias.Overall = clampScore(r.Bias.Overall)
	if r.Anomalies.Findings == nil {
		r.Anomalies.Findings = []ColumnFinding{}
	}
	if r.Insights == nil {
		r.Insights = []Insight{}
	}
	return r, nil
}

//
// ==== pipeline (backend task output) ====
//

type pipelineShape struct{}

func (pipelineShape) Shape() string { return ShapePipeline }

func (pipelineShape) Match(f map[string]json.RawMessage) bool {
	_, ok := f["quality_analysis"]
	return ok
}

func (pipelineShape) Normalize(raw []byte) (Result, error) {
	var doc struct {
		QualityAnalysis struct {
			OverallScore    float64 `json:"overall_score"`
			ComponentScores struct {
				MissingData float64 `json:"missing_data_score"`
				Duplicate   float64 `json:"duplicate_score"`
				Consistency float64 `json:"consistency_score"`
			} `json:"component_scores"`
			QualityIssues []string `json:"quality_issues"`
		} `json:"quality_analysis"`
		AnomalyDetection struct {
			TotalAnomalies int `json:"total_anomalies"`
			Critical       int `json:"critical"`
			Moderate       int `json:"moderate"`
			Examples       struct {
				Critical []int `json:"critical"`
				Moderate []int `json:"moderate"`
			} `json:"examples"`
		} `json:"anomaly_detection"`
		BiasAnalysis struct {
			OverallBiasScore float64  `json:"overall_bias_score"`
			BiasIssues       []string `json:"bias_issues"`
		} `json:"bias_analysis"`
		Insights struct {
			Summary         string   `json:"summary"`
			KeyFindings     []string `json:"key_findings"`
			Recommendations []string `json:"recommendations"`
		} `json:"insights"`
		BasicStats struct {
			TotalRows    int `json:"total_rows"`
			TotalColumns int `json:"total_columns"`
		} `json:"basic_stats"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, err
	}

	qa := doc.QualityAnalysis
	r := Result{
		// duplicate score stands in for accuracy, the overall score for validity
		Quality: clampQuality(Quality{
			Overall:      qa.OverallScore,
			Completeness: qa.ComponentScores.MissingData,
			Consistency:  qa.ComponentScores.Consistency,
			Accuracy:     qa.ComponentScores.Duplicate,
			Validity:     qa.OverallScore,
		}),
		Anomalies: AnomalySummary{
			Total:    doc.AnomalyDetection.TotalAnomalies,
			Critical: doc.AnomalyDetection.Critical,
			Moderate: doc.AnomalyDetection.Moderate,
			Findings: []ColumnFinding{},
		},
		Bias:     BiasSummary{Overall: clampScore(doc.BiasAnalysis.OverallBiasScore), Scores: []BiasScore{}},
		Insights: []Insight{},
		Dataset:  DatasetStats{Rows: doc.BasicStats.TotalRows, Columns: doc.BasicStats.TotalColumns},
	}
	for _, row := range doc.AnomalyDetection.Examples.Critical {
		r.Anomalies.Findings = append(r.Anomalies.Findings, rowFinding(row, "critical"))
	}
	for _, row := range doc.AnomalyDetection.Examples.Moderate {
		r.Anomalies.Findings = append(r.Anomalies.Findings, rowFinding(row, "moderate"))
	}
	for _, issue := range doc.BiasAnalysis.BiasIssues {
		r.Bias.Scores = append(r.Bias.Scores, BiasScore{
			Name:   biasSubject(issue),
			Score:  r.Bias.Overall,
			Status: "warning",
		})
	}
	if s := strings.TrimSpace(doc.Insights.Summary); s != "" {
		r.Insights = append(r.Insights, Insight{Type: "summary", Title: "Dataset summary", Description: s})
	}
	for _, f := range doc.Insights.KeyFindings {
		r.Insights = append(r.Insights, Insight{Type: "finding", Title: "Key finding", Description: f})
	}
	for _, issue := range qa.QualityIssues {
		r.Insights = append(r.Insights, Insight{Type: "quality", Title: "Quality issue", Description: issue})
	}
	for _, rec := range doc.Insights.Recommendations {
		r.Insights = append(r.Insights, Insight{Type: "recommendation", Title: "Recommendation", Description: rec, Action: rec})
	}
	return r, nil
}

func rowFinding(row int, severity string) ColumnFinding {
	return ColumnFinding{
		Row:      &row,
		Type:     "outlier",
		Severity: severity,
		Message:  fmt.Sprintf("row %d flagged as %s outlier", row, severity),
	}
}

// biasSubject pulls "gender" out of "Potential bias in gender".
func biasSubject(issue string) string {
	if i := strings.LastIndex(issue, " in "); i >= 0 {
		return strings.TrimSpace(issue[i+4:])
	}
	return strings.TrimSpace(issue)
}

//
// ==== flat (SDK result) ====
//

type flatShape struct{}

func (flatShape) Shape() string { return ShapeFlat }

func (flatShape) Match(f map[string]json.RawMessage) bool {
	_, ok := f["quality_score"]
	return ok
}

func (flatShape) Normalize(raw []byte) (Result, error) {
	var doc struct {
		QualityScore float64 `json:"quality_score"`
		DataQuality  struct {
			Completeness float64 `json:"completeness"`
			Accuracy     float64 `json:"accuracy"`
			Consistency  float64 `json:"consistency"`
			Validity     float64 `json:"validity"`
		} `json:"data_quality"`
		Anomalies struct {
			Total    int `json:"total"`
			Critical int `json:"critical"`
			Moderate int `json:"moderate"`
			Warnings int `json:"warnings"`
			Details  []struct {
				Type     string `json:"type"`
				Message  string `json:"message"`
				Severity string `json:"severity"`
				Row      *int   `json:"row"`
				Column   string `json:"column"`
			} `json:"details"`
		} `json:"anomalies"`
		Bias struct {
			OverallScore float64 `json:"overall_score"`
			Metrics      map[string]struct {
				Score  float64 `json:"score"`
				Status string  `json:"status"`
			} `json:"metrics"`
		} `json:"bias"`
		Insights []struct {
			Type           string `json:"type"`
			Title          string `json:"title"`
			Description    string `json:"description"`
			Message        string `json:"message"`
			Action         string `json:"action"`
			Recommendation string `json:"recommendation"`
		} `json:"insights"`
		Rows    int `json:"rows"`
		Columns int `json:"columns"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, err
	}

	r := Result{
		Quality: clampQuality(Quality{
			Overall:      doc.QualityScore,
			Completeness: doc.DataQuality.Completeness,
			Consistency:  doc.DataQuality.Consistency,
			Accuracy:     doc.DataQuality.Accuracy,
			Validity:     doc.DataQuality.Validity,
		}),
		Anomalies: AnomalySummary{
			Total:    doc.Anomalies.Total,
			Critical: doc.Anomalies.Critical,
			Moderate: doc.Anomalies.Moderate,
			Warning:  doc.Anomalies.Warnings,
			Findings: []ColumnFinding{},
		},
		Bias:     BiasSummary{Overall: clampScore(doc.Bias.OverallScore), Scores: []BiasScore{}},
		Insights: []Insight{},
		Dataset:  DatasetStats{Rows: doc.Rows, Columns: doc.Columns},
	}
	for _, d := range doc.Anomalies.Details {
		r.Anomalies.Findings = append(r.Anomalies.Findings, ColumnFinding{
			Column:   d.Column,
			Row:      d.Row,
			Type:     d.Type,
			Severity: strings.ToLower(d.Severity),
			Message:  d.Message,
		})
	}
	for _, name := range sortedKeys(doc.Bias.Metrics) {
		m := doc.Bias.Metrics[name]
		r.Bias.Scores = append(r.Bias.Scores, BiasScore{Name: name, Score: clampScore(m.Score), Status: m.Status})
	}
	for _, in := range doc.Insights {
		desc := in.Description
		if desc == "" {
			desc = in.Message
		}
		action := in.Action
		if action == "" {
			action = in.Recommendation
		}
		r.Insights = append(r.Insights, Insight{Type: in.Type, Title: in.Title, Description: desc, Action: action})
	}
	return r, nil
}

func clampQuality(q Quality) Quality {
	return Quality{
		Overall:      clampScore(q.Overall),
		Completeness: clampScore(q.Completeness),
		Consistency:  clampScore(q.Consistency),
		Accuracy:     clampScore(q.Accuracy),
		Validity:     clampScore(q.Validity),
	}
}
