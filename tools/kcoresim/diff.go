package main

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ExpectationError is returned when a run diverges from the expectations of
// its scenario.
type ExpectationError struct {
	What string
	Diff string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("unexpected %s:\n%s", e.What, e.Diff)
}

// expectLines compares exp with got and returns an ExpectationError holding a
// unified diff if they differ.
func expectLines(what string, exp, got []string) error {
	if strings.Join(exp, "\n") == strings.Join(got, "\n") {
		return nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(exp),
		B:        withNewlines(got),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return err
	}

	return &ExpectationError{What: what, Diff: diff}
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line + "\n"
	}
	return out
}
