package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/problems"
)

var (
	passStyle  = color.New(color.FgGreen, color.Bold)
	failStyle  = color.New(color.FgRed, color.Bold)
	mutedStyle = color.New(color.Faint)
)

func renderReport(w io.Writer, report grading.GradingReport) {
	for _, v := range report.Verdicts {
		mark := passStyle.Sprint("PASS")
		if !v.Passed {
			mark = failStyle.Sprint("FAIL")
		}
		fmt.Fprintf(w, "%s  #%d %s\n", mark, v.Index, v.Description)
		if !v.Passed {
			fmt.Fprintf(w, "      input:    %s\n", v.InputDescription)
			fmt.Fprintf(w, "      expected: %s\n", v.ExpectedOutput)
			fmt.Fprintf(w, "      got:      %s\n", v.ActualOutput)
		}
	}

	summary := fmt.Sprintf("%s: %d/%d passed", report.Status, report.PassedCount, report.TotalCount)
	if report.Status == grading.StatusGraded && report.FailedCount == 0 {
		passStyle.Fprintln(w, summary)
	} else {
		failStyle.Fprintln(w, summary)
	}
	if report.ErrorDetail != "" {
		mutedStyle.Fprintln(w, report.ErrorDetail)
	}
}

func renderProblems(w io.Writer, store *problems.Registry) {
	for _, name := range store.Names() {
		p, err := store.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", passStyle.Sprint(name), mutedStyle.Sprintf("(%d test cases)", len(p.TestCases)))
	}
}
