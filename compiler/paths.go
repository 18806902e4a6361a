// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"regexp"
	"sort"
	"strings"
)

// pathAlias is one compiled entry of tsconfig "paths".
type pathAlias struct {
	pattern string
	re      *regexp.Regexp
	targets []string
}

// PathAliases maps module specifiers through tsconfig "paths". Patterns
// with the longest prefix before the wildcard win, as in the TypeScript
// resolver.
type PathAliases []pathAlias

// NewPathAliases compiles the given paths map. Targets must already be
// absolute.
func NewPathAliases(paths map[string][]string) PathAliases {
	aliases := make(PathAliases, 0, len(paths))
	for alias, targets := range paths {
		if alias == "" || len(targets) == 0 {
			continue
		}
		aliasPattern := "^" + regexp.QuoteMeta(alias) + "$"
		// Support a single wildcard '*' in the alias
		if i := strings.IndexByte(alias, '*'); i >= 0 {
			aliasPattern = "^" + regexp.QuoteMeta(alias[:i]) + "(.*)" + regexp.QuoteMeta(alias[i+1:]) + "$"
		}
		aliases = append(aliases, pathAlias{
			pattern: alias,
			re:      regexp.MustCompile(aliasPattern),
			targets: targets,
		})
	}
	sort.SliceStable(aliases, func(i, j int) bool {
		pi, pj := aliasPrefixLen(aliases[i].pattern), aliasPrefixLen(aliases[j].pattern)
		if pi != pj {
			return pi > pj
		}
		return aliases[i].pattern < aliases[j].pattern
	})
	return aliases
}

func aliasPrefixLen(pattern string) int {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return i
	}
	// exact patterns beat any wildcard
	return len(pattern) + 1<<16
}

// Candidates returns the substituted target paths for specifier, in
// priority order, or nil when no alias matches.
func (a PathAliases) Candidates(specifier string) []string {
	for _, alias := range a {
		m := alias.re.FindStringSubmatch(specifier)
		if m == nil {
			continue
		}
		out := make([]string, 0, len(alias.targets))
		for _, target := range alias.targets {
			if len(m) > 1 {
				target = strings.Replace(target, "*", m[1], 1)
			}
			out = append(out, target)
		}
		return out
	}
	return nil
}

// Apply returns the first candidate for specifier, or specifier itself.
func (a PathAliases) Apply(specifier string) string {
	if c := a.Candidates(specifier); len(c) > 0 {
		return c[0]
	}
	return specifier
}
