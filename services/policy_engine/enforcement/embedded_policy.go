// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enforcement carries the classification rules that gate what may
// be sent to a cloud provider tier. The rules are embedded at build time so
// a deployment cannot weaken them by editing a file on the host.
package enforcement

import (
	_ "embed"
)

// DataClassificationPatterns is the raw rule file as shipped in the binary.
// The policy engine unmarshals it directly; changing the rules means
// rebuilding.
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte
