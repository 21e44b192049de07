// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"testing"

	"gopkg.in/yaml.v3"
)

// A build that embeds an empty or corrupt rule file would ship a scanner
// that blocks nothing. Catch that here rather than in production.
func TestEmbeddedRulesParse(t *testing.T) {
	if len(DataClassificationPatterns) == 0 {
		t.Fatal("embedded rule file is empty; go:embed did not pick up data_classification_patterns.yaml")
	}

	var doc struct {
		Classifications []struct {
			Name     string `yaml:"name"`
			Patterns []struct {
				Id    string `yaml:"id"`
				Regex string `yaml:"regex"`
			} `yaml:"patterns"`
		} `yaml:"classifications"`
	}
	if err := yaml.Unmarshal(DataClassificationPatterns, &doc); err != nil {
		t.Fatalf("embedded rules are not valid YAML: %v", err)
	}

	if len(doc.Classifications) == 0 {
		t.Fatal("embedded rules define no classifications")
	}
	for _, class := range doc.Classifications {
		if len(class.Patterns) == 0 {
			t.Errorf("classification %q has no patterns", class.Name)
		}
		for _, p := range class.Patterns {
			if p.Regex == "" {
				t.Errorf("pattern %s has an empty regex", p.Id)
			}
		}
	}
}
