package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	service "github.com/okian/posefuse/internal/app"
)

// printResults writes one block per subject: the outcome, then a row per
// view with its frame counts, recoverable error samples or fatal cause.
func printResults(w io.Writer, results []service.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%s\trun %s\t%s\n", s.SubjectID, s.Outcome, s.RunID, s.Elapsed.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(tw, "  error\t%s\n", r.Error)
		}
		for _, v := range s.Views {
			fmt.Fprintf(tw, "  %s\t%s\t%d/%d frames", v.ViewID, v.Status, v.FramesWritten, v.TotalFrames)
			switch {
			case v.FatalCause != "":
				fmt.Fprintf(tw, "\t%s", v.FatalCause)
			case v.RecoverableErrors > 0:
				fmt.Fprintf(tw, "\t%d recoverable errors", v.RecoverableErrors)
			}
			fmt.Fprintln(tw)
			for _, sample := range v.ErrorSamples {
				fmt.Fprintf(tw, "    \t%s\n", sample)
			}
		}
	}
	return tw.Flush()
}
