package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
)

func statusColor(s inference.Severity) *color.Color {
	switch s {
	case inference.SeveritySuccess:
		return color.New(color.FgGreen, color.Bold)
	case inference.SeverityWarning:
		return color.New(color.FgYellow, color.Bold)
	case inference.SeverityError:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}

// printRun writes the per-layer table, the confidence scores of the final layer and the
// status line.
func printRun(w io.Writer, snap inference.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tSTATUS\tACTIVATION\tARGMAX\tOUTPUT\tTX")
	for _, r := range snap.Results {
		argmax := "-"
		if r.ArgmaxIdx != nil {
			argmax = fmt.Sprint(*r.ArgmaxIdx)
		}
		out := signed.Format(r.Output)
		if r.Status == inference.LayerError {
			out = r.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.LayerIdx, r.Status, r.Activation, argmax, out, r.TxDigest)
	}
	tw.Flush()

	if final, ok := snap.Final(); ok && final.Output.Len() > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Confidence:")
		for _, s := range inference.ConfidenceScores(final.Output) {
			fmt.Fprintf(w, "  class %d  %s\n", s.Index, s.Confidence.StringFixed(4))
		}
	}

	fmt.Fprintln(w)
	statusColor(snap.Status.Severity).Fprintln(w, snap.Status.Message)
	if snap.TxDigest != "" {
		fmt.Fprintf(w, "Digest: %s\n", snap.TxDigest)
	}
}

// printModel writes model metadata and its layer shapes.
func printModel(w io.Writer, o *model.Object) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s", o.Name)
	fmt.Fprintf(w, " (%s)\n", o.ID)
	if o.Description != "" {
		fmt.Fprintln(w, o.Description)
	}
	fmt.Fprintf(w, "Task: %s  Scale: %d  Creator: %s\n\n", o.TaskType, uint64(o.Scale), o.Creator)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tIN\tOUT")
	for i, l := range o.Layers() {
		fmt.Fprintf(tw, "%d\t%d\t%d\n", i, uint64(l.InDimension), uint64(l.OutDimension))
	}
	tw.Flush()
}
