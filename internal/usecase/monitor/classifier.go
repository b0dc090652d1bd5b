package monitor

import (
	"strings"
)

// Severity is the escalation tier of a recorded failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Severities lists every tier, most severe first.
var Severities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// AtMost returns s lowered to ceiling when it is more severe.
func (s Severity) AtMost(ceiling Severity) Severity {
	if s.rank() > ceiling.rank() {
		return ceiling
	}
	return s
}

var (
	databaseTerms = []string{"mongodb", "mongo", "postgres", "postgresql", "pgx", "database"}
	refusedTerms  = []string{"econnrefused", "connection refused"}
	resourceTerms = []string{"out of memory", "cannot allocate memory", "enospc", "no space left on device"}
	timeoutTerms  = []string{"timeout", "timed out", "deadline exceeded"}
	invalidTerms  = []string{"validation"}
)

// rule matches when every group has at least one term in the message.
type rule struct {
	name     string
	severity Severity
	groups   [][]string
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{name: "database-refused", severity: SeverityCritical, groups: [][]string{databaseTerms, refusedTerms}},
	{name: "resource-exhausted", severity: SeverityCritical, groups: [][]string{resourceTerms}},
	{name: "transient", severity: SeverityWarning, groups: [][]string{concat(timeoutTerms, refusedTerms, invalidTerms)}},
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func (r rule) matches(msg string) bool {
	for _, group := range r.groups {
		if !containsAny(msg, group) {
			return false
		}
	}
	return true
}

func containsAny(msg string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

// Classify maps err to a severity. A nil error is info.
func Classify(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies raw error text, case-insensitively.
func ClassifyMessage(msg string) Severity {
	msg = strings.ToLower(msg)
	for _, r := range rules {
		if r.matches(msg) {
			return r.severity
		}
	}
	return SeverityInfo
}
