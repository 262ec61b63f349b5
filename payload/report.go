package payload

import (
	"fmt"
	"strings"
)

// Entry names a kernel entry point
type Entry string

const (
	// EntryDispatch executes (or dry-run simulates) the batch
	EntryDispatch Entry = "mqo_dispatch"
	// EntryDebug only decodes the batch and describes it
	EntryDebug Entry = "mqo_debug"
)

// ParseEntry validates an entry point name
func ParseEntry(s string) (Entry, error) {
	switch e := Entry(s); e {
	case EntryDispatch, EntryDebug:
		return e, nil
	}
	return "", fmt.Errorf("unknown entry point %q", s)
}

// Report renders the human readable description returned by the debug
// entry point. Nothing is executed.
func Report(p *Payload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SQL: %s\n", p.TemplateSQL)
	fmt.Fprintf(&sb, "Rows: %d\n", len(p.Rows))
	if p.DryRun {
		sb.WriteString("DryRun: YES\n")
	} else {
		sb.WriteString("DryRun: NO\n")
	}
	fmt.Fprintf(&sb, "Params: [%s]\n", strings.Join(p.ParamTypes, ", "))
	if p.ScanTable != "" {
		fmt.Fprintf(&sb, "ScanHint: Table=%s, Col=%s", p.ScanTable, p.ScanCol)
	} else {
		sb.WriteString("ScanHint: NONE")
	}
	return sb.String()
}
