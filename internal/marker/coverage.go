package marker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// coverageDocument is the JSON report a coverage task prints after the
// harness banner. Only the summary block matters for the mark report.
type coverageDocument struct {
	Summary struct {
		TotalFiles      uint64  `json:"total_files"`
		TotalLines      uint64  `json:"total_lines"`
		CoveredLines    uint64  `json:"covered_lines"`
		CoveragePercent float64 `json:"coverage_percent"`
	} `json:"summary"`
}

// parseCoverage extracts the coverage summary from raw task output.
// Returns nil when no parseable document is present; a coverage task
// with broken tooling still grades, it just carries no coverage block.
func parseCoverage(raw []byte) *CoverageReport {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil
	}
	var doc coverageDocument
	dec := json.NewDecoder(bytes.NewReader(raw[start:]))
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	s := doc.Summary
	if s.TotalLines == 0 {
		return nil
	}
	percent := s.CoveragePercent
	if percent == 0 {
		percent = float64(s.CoveredLines) / float64(s.TotalLines) * 100
	}
	return &CoverageReport{
		Percent: percent,
		Summary: fmt.Sprintf("%d/%d lines covered across %d files",
			s.CoveredLines, s.TotalLines, s.TotalFiles),
	}
}
