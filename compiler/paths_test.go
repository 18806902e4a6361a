// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"reflect"
	"testing"
)

// TestPathAliasesApply tests wildcard and exact alias substitution.
func TestPathAliasesApply(t *testing.T) {
	aliases := NewPathAliases(map[string][]string{
		"@/*":      {"/test/project/src/*"},
		"@utils/*": {"/test/project/src/utils/*"},
		"config":   {"/test/project/src/config.ts"},
	})

	tests := []struct {
		input    string
		expected string
	}{
		{"@/components/Button", "/test/project/src/components/Button"},
		{"@utils/helpers", "/test/project/src/utils/helpers"},
		{"config", "/test/project/src/config.ts"},
		{"config/extra", "config/extra"},
		{"regular/path", "regular/path"},
		{"./relative", "./relative"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := aliases.Apply(tt.input); got != tt.expected {
				t.Errorf("Apply(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestPathAliasesLongestPrefixWins tests that a more specific alias beats a
// broader one regardless of map order.
func TestPathAliasesLongestPrefixWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		aliases := NewPathAliases(map[string][]string{
			"@app/*":        {"/p/src/app/*"},
			"@app/shared/*": {"/p/libs/shared/*"},
			"*":             {"/p/vendor/*"},
		})
		if got := aliases.Apply("@app/shared/button"); got != "/p/libs/shared/button" {
			t.Fatalf("expected specific alias to win, got %q", got)
		}
		if got := aliases.Apply("@app/home"); got != "/p/src/app/home" {
			t.Fatalf("expected @app alias, got %q", got)
		}
		if got := aliases.Apply("lodash"); got != "/p/vendor/lodash" {
			t.Fatalf("expected catch-all alias, got %q", got)
		}
	}
}

// TestPathAliasesCandidates tests multiple fallback targets.
func TestPathAliasesCandidates(t *testing.T) {
	aliases := NewPathAliases(map[string][]string{
		"@lib/*": {"/p/src/lib/*", "/p/generated/lib/*"},
	})

	got := aliases.Candidates("@lib/api")
	expected := []string{"/p/src/lib/api", "/p/generated/lib/api"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Candidates = %v, expected %v", got, expected)
	}
	if aliases.Candidates("other") != nil {
		t.Errorf("expected no candidates for unmatched specifier")
	}
}

// TestPathAliasesSpecialChars tests aliases containing regexp metacharacters.
func TestPathAliasesSpecialChars(t *testing.T) {
	aliases := NewPathAliases(map[string][]string{
		"@test.lib/*": {"/p/test/*"},
		"$root/*":     {"/p/root/*"},
		"":            {"/ignored"},
		"empty":       {},
	})

	if got := aliases.Apply("@test.lib/file"); got != "/p/test/file" {
		t.Errorf("unexpected %q", got)
	}
	if got := aliases.Apply("@testXlib/file"); got != "@testXlib/file" {
		t.Errorf("dot must match literally, got %q", got)
	}
	if got := aliases.Apply("$root/a"); got != "/p/root/a" {
		t.Errorf("unexpected %q", got)
	}
	if len(aliases) != 2 {
		t.Errorf("expected empty aliases and targets to be skipped, got %d entries", len(aliases))
	}
}
