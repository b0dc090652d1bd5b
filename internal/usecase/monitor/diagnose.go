package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Diagnoser produces a short analysis of a recorded failure.
type Diagnoser interface {
	Diagnose(ctx context.Context, rec ErrorRecord) (string, error)
}

// Completer is a text-generation backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewDiagnoser builds a Diagnoser that asks c for a root-cause analysis.
func NewDiagnoser(c Completer) Diagnoser {
	return &completerDiagnoser{completer: c}
}

type completerDiagnoser struct {
	completer Completer
}

func (d *completerDiagnoser) Diagnose(ctx context.Context, rec ErrorRecord) (string, error) {
	out, err := d.completer.Complete(ctx, diagnosisPrompt(rec))
	if err != nil {
		return "", fmt.Errorf("diagnose %s: %w", rec.ID, err)
	}
	return strings.TrimSpace(out), nil
}

func diagnosisPrompt(rec ErrorRecord) string {
	var b strings.Builder
	b.WriteString("You are assisting the operator of a content ingestion service.\n")
	b.WriteString("Analyze the following error and answer in at most five short lines: ")
	b.WriteString("the likely root cause, whether it is transient, and one concrete remediation.\n\n")
	fmt.Fprintf(&b, "Severity: %s\n", rec.Severity)
	fmt.Fprintf(&b, "Time: %s\n", rec.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if rec.Context.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", rec.Context.Source)
	}
	if rec.Context.Operation != "" {
		fmt.Fprintf(&b, "Operation: %s\n", rec.Context.Operation)
	}
	if rec.Context.Resource != "" {
		fmt.Fprintf(&b, "Resource: %s\n", rec.Context.Resource)
	}
	keys := make([]string, 0, len(rec.Context.Attributes))
	for k := range rec.Context.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, rec.Context.Attributes[k])
	}
	fmt.Fprintf(&b, "Error: %s\n", rec.Message)
	return b.String()
}
