package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gnss-replay/internal/correction"
	"gnss-replay/internal/decode"
	"gnss-replay/internal/gnss"
	"gnss-replay/internal/replay"
)

type logSummary struct {
	Records    int
	Malformed  int
	First      time.Time
	Last       time.Time
	SourceRows map[int]int
	TypeCounts map[int]int

	// Set when summarized against a service.
	Service    string
	Stage      correction.StageResult
	KindCounts map[gnss.ComponentKind]int
	DecodeErrs int
}

// Span is the time covered by the log.
func (s logSummary) Span() time.Duration {
	if s.Records == 0 {
		return 0
	}
	return s.Last.Sub(s.First)
}

func summarizeCorrectionLog(recs []gnss.CorrectionRecord, st replay.ReadStats) logSummary {
	s := logSummary{
		Records:    len(recs),
		Malformed:  st.Malformed,
		SourceRows: map[int]int{},
		TypeCounts: map[int]int{},
	}
	for i, r := range recs {
		at := gnss.GPSTime(r.Week, r.TimeOfWeek)
		if i == 0 || at.Before(s.First) {
			s.First = at
		}
		if i == 0 || at.After(s.Last) {
			s.Last = at
		}
		s.SourceRows[r.Source]++
		s.TypeCounts[r.MessageType]++
	}
	return s
}

// classify runs the records through the service's stage and decoder, in
// file order, and counts the component kinds they carry.
func (s *logSummary) classify(recs []gnss.CorrectionRecord, svc correction.Service, dec decode.Decoder) {
	s.Service = svc.Name
	s.KindCounts = map[gnss.ComponentKind]int{}
	stage := correction.NewStage(svc)
	accepted, res, _ := stage.Accept(recs)
	s.Stage = res
	for _, r := range accepted {
		updates, err := dec.Decode(r)
		if err != nil {
			s.DecodeErrs++
			continue
		}
		for _, u := range updates {
			for _, k := range u.Kinds.Kinds() {
				s.KindCounts[k]++
			}
		}
	}
}

func printLogSummary(w io.Writer, path, service string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, st, err := replay.ReadCorrectionFile(path)
	if err != nil {
		return err
	}
	s := summarizeCorrectionLog(recs, st)
	if service != "" {
		svc, err := correction.LookupService(service)
		if err != nil {
			return err
		}
		dec, err := decode.ForService(svc.Name)
		if err != nil {
			return err
		}
		s.classify(recs, svc, dec)
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	fmt.Fprintf(w, "malformed_lines: %d\n", s.Malformed)
	if s.Records > 0 {
		fmt.Fprintf(w, "first: %s\n", s.First.Format(time.DateTime))
		fmt.Fprintf(w, "last: %s\n", s.Last.Format(time.DateTime))
	}
	fmt.Fprintf(w, "span: %s\n", s.Span())

	fmt.Fprintf(w, "source_counts:\n")
	for _, k := range sortedKeys(s.SourceRows) {
		fmt.Fprintf(w, "  %d: %d\n", k, s.SourceRows[k])
	}
	fmt.Fprintf(w, "type_counts:\n")
	for _, k := range sortedKeys(s.TypeCounts) {
		fmt.Fprintf(w, "  %d: %d\n", k, s.TypeCounts[k])
	}

	if s.Service == "" {
		return nil
	}
	fmt.Fprintf(w, "service: %s\n", s.Service)
	fmt.Fprintf(w, "accepted: %d\n", s.Stage.Accepted)
	fmt.Fprintf(w, "ignored: %d\n", s.Stage.Ignored)
	fmt.Fprintf(w, "malformed_records: %d\n", s.Stage.Malformed)
	fmt.Fprintf(w, "pending_chunks: %d\n", s.Stage.Pending)
	fmt.Fprintf(w, "decode_errors: %d\n", s.DecodeErrs)
	fmt.Fprintf(w, "kind_counts:\n")
	for _, k := range gnss.Kinds() {
		if n := s.KindCounts[k]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", k, n)
		}
	}
	return nil
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func newSummaryCmd(a *app) *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "summary <correction-log>",
		Short: "Summarize a recorded correction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLogSummary(cmd.OutOrStdout(), args[0], service)
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "Classify records as this correction service")
	return cmd
}
