// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// loadAPIKey resolves a provider API key from the environment variable or,
// failing that, a mounted container secret, and seals it in a memguard
// enclave so the plaintext never sits in ordinary heap memory between
// requests.
//
// The returned enclave is opened per call site via withAPIKey.
func loadAPIKey(envVar, secretPath string) (*memguard.Enclave, error) {
	if v := os.Getenv(envVar); v != "" {
		return memguard.NewEnclave([]byte(strings.TrimSpace(v))), nil
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		slog.Info("Read API key from container secret", "path", secretPath)
		return memguard.NewEnclave([]byte(strings.TrimSpace(string(content)))), nil
	}
	return nil, fmt.Errorf("%s is not set and no secret found at %s", envVar, secretPath)
}

// withAPIKey opens the enclave, hands the plaintext key to fn, and wipes the
// locked buffer before returning.
func withAPIKey(enclave *memguard.Enclave, fn func(key string) error) error {
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening API key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}
