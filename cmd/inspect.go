package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coal/gazelink/internal/link"
)

var (
	inspectJSON     bool
	inspectMessages bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [recording file]",
	Short: "Summarize a recording file written by the simulated tracker",
	Long:  "Decode a recording file and show its sample, event and message counts, time span and data quality.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the summary as JSON on stdout")
	inspectCmd.Flags().BoolVar(&inspectMessages, "messages", false, "List every message")
}

// recordingSummary describes a decoded recording.
type recordingSummary struct {
	Version      uint16         `json:"version"`
	Samples      int            `json:"samples"`
	ValidSamples int            `json:"valid_samples"`
	FirstTime    uint64         `json:"first_time"`
	LastTime     uint64         `json:"last_time"`
	Messages     int            `json:"messages"`
	Events       map[string]int `json:"events"`
	AvgFixation  float64        `json:"avg_fixation_ms"`
	Trials       []string       `json:"trials,omitempty"`
	MessageLog   []link.Message `json:"message_log,omitempty"`
}

func summarize(rec *link.Recording, withMessages bool) recordingSummary {
	sum := recordingSummary{
		Version:  rec.Version,
		Samples:  len(rec.Samples),
		Messages: len(rec.Messages),
		Events:   map[string]int{},
	}
	if n := len(rec.Samples); n > 0 {
		sum.FirstTime = rec.Samples[0].Time
		sum.LastTime = rec.Samples[n-1].Time
	}
	for _, s := range rec.Samples {
		if s.Left.Valid || s.Right.Valid {
			sum.ValidSamples++
		}
	}

	var fixations, fixationMs uint64
	for _, ev := range rec.Events {
		sum.Events[ev.Type.String()]++
		if ev.Type == link.EndFixation {
			fixations++
			fixationMs += ev.Duration()
		}
	}
	if fixations > 0 {
		sum.AvgFixation = float64(fixationMs) / float64(fixations)
	}

	for _, m := range rec.Messages {
		if id, ok := strings.CutPrefix(m.Text, "TRIALID "); ok {
			sum.Trials = append(sum.Trials, id)
		}
	}
	if withMessages {
		sum.MessageLog = rec.Messages
	}
	return sum
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	rec, err := link.ReadRecording(f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	sum := summarize(rec, inspectMessages)

	if inspectJSON {
		out, _ := json.MarshalIndent(sum, "", "  ")
		fmt.Fprintf(os.Stdout, "%s\n", out)
		return nil
	}
	printSummary(os.Stderr, args[0], sum)
	return nil
}

func printSummary(w io.Writer, path string, sum recordingSummary) {
	fmt.Fprintf(w, "\n=== Recording %s (format v%d) ===\n\n", path, sum.Version)
	fmt.Fprintf(w, "  Samples:  %d", sum.Samples)
	if sum.Samples > 0 {
		fmt.Fprintf(w, " (%.1f%% valid, %d..%d ms)", 100*float64(sum.ValidSamples)/float64(sum.Samples), sum.FirstTime, sum.LastTime)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Messages: %d\n", sum.Messages)

	types := make([]string, 0, len(sum.Events))
	for t := range sum.Events {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintf(w, "\n=== Events ===\n\n")
	for _, t := range types {
		fmt.Fprintf(w, "  %-16s %d\n", t, sum.Events[t])
	}
	if sum.AvgFixation > 0 {
		fmt.Fprintf(w, "  avg fixation     %.1f ms\n", sum.AvgFixation)
	}
	if len(sum.Trials) > 0 {
		fmt.Fprintf(w, "\n  Trials: %v\n", sum.Trials)
	}
	if len(sum.MessageLog) > 0 {
		fmt.Fprintf(w, "\n=== Messages ===\n\n")
		for _, m := range sum.MessageLog {
			fmt.Fprintf(w, "  %10d  %s\n", m.Time, m.Text)
		}
	}
	fmt.Fprintln(w)
}
