// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLineage/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine classifies text against the embedded data classification
// rules. Questions and uploaded scripts are scanned before they can reach a
// cloud provider tier; a match blocks the dispatch.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine builds an engine from the rule file compiled into the
// binary. The rules ship embedded so every deployment scans with the same
// set; there is no runtime rule loading.
//
// Regexes are compiled once here, and classifications are ordered by
// priority so the most sensitive label wins on overlap. Returns an error
// when the embedded YAML is malformed or a pattern does not compile.
func NewPolicyEngine() (*PolicyEngine, error) {
	var classificationFile PolicyEngineClassificationFile
	if err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &classificationFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}

	if err := classificationFile.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}

	// Highest priority first, so ClassifyData's first match is the
	// strictest applicable label.
	classificationFile.SortByPriority()

	return &PolicyEngine{Classifiers: classificationFile.ClassificationPatterns}, nil
}

// ClassifyData labels a payload with the name of the first classification
// whose patterns match, or "public" when nothing does. It stops at the
// first hit, which is what the pre-dispatch gate needs; ScanFileContent is
// the exhaustive variant.
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return "public"
}

// ScanFileContent checks every line of an uploaded script against every
// pattern and reports each hit with its line number, the matched text, and
// the pattern that fired. Callers use the findings to tell the uploader
// exactly what was rejected and where.
func (e *PolicyEngine) ScanFileContent(content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
			}
		}
	}
	return findings
}
