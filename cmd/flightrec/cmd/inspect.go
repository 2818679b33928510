package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/flightrec/internal/jfr"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <recording.jfr>",
	Short: "Summarize the chunks, types and events of a recording file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("types", false, "list every type declared in each chunk")
	inspectCmd.Flags().String("event", "", "print the events of this type")
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	chunks, err := jfr.ParseRecording(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	showTypes, _ := cmd.Flags().GetBool("types")
	event, _ := cmd.Flags().GetString("event")
	return writeSummary(cmd.OutOrStdout(), chunks, showTypes, event)
}

func writeSummary(out io.Writer, chunks []*jfr.ParsedChunk, showTypes bool, event string) error {
	for i, c := range chunks {
		h := c.Header
		fmt.Fprintf(out, "chunk %d: v%d.%d size=%d start=%s duration=%s types=%d events=%d\n",
			i, h.Major, h.Minor, h.Size,
			time.Unix(0, h.StartNanos).UTC().Format(time.RFC3339Nano),
			time.Duration(h.DurationNanos), len(c.Types), len(c.Events))

		counts := make(map[string]int)
		for _, ev := range c.Events {
			counts[ev.Type.Name]++
		}
		for _, name := range sortedKeys(counts) {
			fmt.Fprintf(out, "  %-40s %d\n", name, counts[name])
		}

		if showTypes {
			ids := make([]int64, 0, len(c.Types))
			for id := range c.Types {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
			for _, id := range ids {
				t := c.Types[id]
				fmt.Fprintf(out, "  type %3d %s (%d fields)\n", id, t.Name, len(t.Fields))
			}
		}

		if event != "" {
			for _, ev := range c.EventsOf(event) {
				fmt.Fprintf(out, "  %s\n", formatObject(ev, 0))
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const maxFormatDepth = 8

// formatObject renders a decoded value on one line, fields in declared order.
func formatObject(v any, depth int) string {
	if depth > maxFormatDepth {
		return "..."
	}
	switch x := v.(type) {
	case *jfr.Object:
		if x == nil {
			return "null"
		}
		s := "{"
		for i, f := range x.Type.Fields {
			if i > 0 {
				s += " "
			}
			s += f.Name + "=" + formatObject(x.Fields[f.Name], depth+1)
		}
		return s + "}"
	case []any:
		s := "["
		for i, e := range x {
			if i > 0 {
				s += " "
			}
			s += formatObject(e, depth+1)
		}
		return s + "]"
	case string:
		return fmt.Sprintf("%q", x)
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}
