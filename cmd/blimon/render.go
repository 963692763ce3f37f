package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/blimon/internal/central"
	"github.com/srg/blimon/pkg/config"
	"golang.org/x/term"
)

const (
	clearScreenSequence = "\033[2J\033[H"
	logTimeFormat       = "15:04:05.000"
	defaultLogTail      = 20
	maxNameWidth        = 20
)

// peripheralRow is one line of the peripheral table. Row is the index
// accepted by --select.
type peripheralRow struct {
	Row   int                     `json:"row"`
	ID    central.PeerID          `json:"id"`
	Name  string                  `json:"name"`
	State central.ConnectionState `json:"state"`
	Stage string                  `json:"stage,omitempty"`
	Error string                  `json:"error,omitempty"`
}

// snapshot is one rendered frame.
type snapshot struct {
	Adapter     string             `json:"adapter"`
	Peripherals []peripheralRow    `json:"peripherals"`
	Log         []central.LogEntry `json:"log"`
}

// takeSnapshot reads the published views of c.
func takeSnapshot(c *central.Central) snapshot {
	state, reason := c.AdapterState()
	adapter := state.String()
	if state == central.StateUnauthorized {
		adapter += " (" + reason.String() + ")"
	}

	peers := c.Peripherals()
	rows := make([]peripheralRow, 0, len(peers))
	for i, p := range peers {
		row := peripheralRow{Row: i, ID: p.ID, Name: p.DisplayName(), State: p.State}
		if info, ok := c.Stage(p.ID); ok {
			row.Stage = info.Stage.String()
			if info.Err != nil {
				row.Error = info.Err.Error()
			}
		}
		rows = append(rows, row)
	}

	return snapshot{Adapter: adapter, Peripherals: rows, Log: c.Log()}
}

// renderer prints frames as a table or as one JSON document per frame.
type renderer struct {
	out         io.Writer
	format      string
	interactive bool // redraw in place
	logTail     int  // 0 prints the whole log
}

func newRenderer(out io.Writer, format string, logTail int) *renderer {
	return &renderer{
		out:         out,
		format:      strings.ToLower(format),
		interactive: isTerminal(out),
		logTail:     logTail,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *renderer) Render(s snapshot) error {
	if r.format == config.FormatJSON {
		encoder := json.NewEncoder(r.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(s)
	}

	if r.interactive {
		fmt.Fprint(r.out, clearScreenSequence)
	}
	return r.renderTable(s)
}

func (r *renderer) renderTable(s snapshot) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ADAPTER: %s\n\n", s.Adapter)

	if len(s.Peripherals) == 0 {
		fmt.Fprintln(w, "No peripherals connected")
	} else {
		fmt.Fprintln(w, "ROW\tNAME\tID\tSTATE\tSTAGE")
		for _, p := range s.Peripherals {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.Row, truncateName(p.Name), p.ID, p.State, stageColor(p.Stage))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	entries := s.Log
	if r.logTail > 0 && len(entries) > r.logTail {
		entries = entries[len(entries)-r.logTail:]
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "EVENTS")
	for _, e := range entries {
		fmt.Fprintf(r.out, "%s  %s  %s\n", e.Time.Format(logTimeFormat), e.Peer, e.Message)
	}

	for _, p := range s.Peripherals {
		if p.Error != "" {
			fmt.Fprintf(r.out, "%s %s\n", color.RedString("FAILED"), p.Error)
		}
	}
	return nil
}

// truncateName shortens names longer than maxNameWidth runes.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= maxNameWidth {
		return name
	}
	return string(runes[:maxNameWidth-3]) + "..."
}

func stageColor(stage string) string {
	switch stage {
	case central.Subscribed.String():
		return color.GreenString(stage)
	case central.Failed.String():
		return color.RedString(stage)
	case "":
		return "-"
	default:
		return color.YellowString(stage)
	}
}
