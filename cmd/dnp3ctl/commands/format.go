package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatAssociations renders the association list in the requested format.
func formatAssociations(views []associationView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(views)
	case formatTable:
		return formatAssociationsTable(views)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatAssociationsTable(views []associationView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tCLASS1\tCLASS2\tCLASS3\tINTEGRITY-POLL")

	for _, v := range views {
		poll := v.IntegrityPollPeriod
		if poll == "" {
			poll = "-"
		}
		fmt.Fprintf(w, "%d\t%t\t%t\t%t\t%s\n", v.Address, v.Class1, v.Class2, v.Class3, poll)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
