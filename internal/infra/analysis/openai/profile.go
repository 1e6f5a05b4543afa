package openai

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// profile is a cheap local look at the sampled bytes. It feeds the prompt
// and fills dataset stats the model leaves out.
type profile struct {
	Rows       int
	Columns    int
	Header     []string
	EmptyRatio float64
	Truncated  bool
}

func profileSample(mimeType string, sample []byte, truncated bool) profile {
	p := profile{Truncated: truncated}
	switch {
	case strings.Contains(mimeType, "csv"):
		profileCSV(&p, sample)
	case strings.Contains(mimeType, "json"):
		profileJSON(&p, sample)
	}
	return p
}

func profileCSV(p *profile, sample []byte) {
	r := csv.NewReader(bytes.NewReader(sample))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var cells, empty int
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a cut-off last line is expected in a truncated sample
			break
		}
		if p.Header == nil {
			p.Header = rec
			p.Columns = len(rec)
			continue
		}
		p.Rows++
		for _, v := range rec {
			cells++
			if strings.TrimSpace(v) == "" {
				empty++
			}
		}
	}
	if cells > 0 {
		p.EmptyRatio = float64(empty) / float64(cells)
	}
}

func profileJSON(p *profile, sample []byte) {
	var rows []map[string]any
	if err := json.Unmarshal(sample, &rows); err != nil {
		return
	}
	seen := map[string]bool{}
	var cells, empty int
	for _, row := range rows {
		for k, v := range row {
			if !seen[k] {
				seen[k] = true
				p.Header = append(p.Header, k)
			}
			cells++
			if v == nil || v == "" {
				empty++
			}
		}
	}
	sort.Strings(p.Header)
	p.Rows = len(rows)
	p.Columns = len(p.Header)
	if cells > 0 {
		p.EmptyRatio = float64(empty) / float64(cells)
	}
}
