package grouping

import (
	"sort"
	"strings"
)

// UngroupedPool collects models no static pattern recognizes.
const UngroupedPool = "ungrouped"

type poolPattern struct {
	pattern string
	pool    string
	title   string
}

// staticPools maps model name fragments to known quota pools. It is sorted
// longest pattern first at init so variants win over their base names.
var staticPools = []poolPattern{
	{"gemini-3-pro-high", "gemini-pro", "Gemini Pro"},
	{"gemini-3-pro-low", "gemini-pro", "Gemini Pro"},
	{"gemini-3-pro", "gemini-pro", "Gemini Pro"},
	{"gemini-2.5-pro", "gemini-pro", "Gemini Pro"},
	{"gemini-3-flash", "gemini-flash", "Gemini Flash"},
	{"gemini-2.5-flash", "gemini-flash", "Gemini Flash"},
	{"claude-opus", "claude", "Claude"},
	{"claude-sonnet", "claude", "Claude"},
	{"claude", "claude", "Claude"},
	{"gpt-oss", "gpt-oss", "GPT-OSS"},
	{"gpt-4o-mini", "gpt-4o-mini", "GPT-4o mini"},
	{"gpt-4o", "gpt-4o", "GPT-4o"},
}

func init() {
	sort.SliceStable(staticPools, func(i, j int) bool {
		return len(staticPools[i].pattern) > len(staticPools[j].pattern)
	})
}

// StaticPool returns the pool for a model name, or UngroupedPool.
func StaticPool(name string) string {
	p, _ := lookupPool(name)
	return p.pool
}

func lookupPool(name string) (poolPattern, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range staticPools {
		if strings.Contains(name, p.pattern) {
			return p, true
		}
	}
	return poolPattern{pool: UngroupedPool, title: "Other models"}, false
}
