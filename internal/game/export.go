package game

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Exporter appends a human readable log of every adjudicated turn to a file.
type Exporter struct {
	filename string

	mu     sync.Mutex
	headed map[string]bool // session codes whose header is written
}

func NewExporter(filename string) *Exporter {
	return &Exporter{filename: filename, headed: make(map[string]bool)}
}

func (e *Exporter) Publish(_ context.Context, ev Event) {
	switch ev.Type {
	case EventTurnAdjudicated, EventRankingFailed, EventSessionFinished:
	default:
		return
	}
	if err := e.Export(ev); err != nil {
		log.Error().Err(err).Str("code", ev.SessionCode).Msg("failed to export turn")
		return
	}
	log.Debug().Str("code", ev.SessionCode).Str("file", e.filename).Msg("exported turn")
}

// Export writes the section for a single event.
func (e *Exporter) Export(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(e.filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.OpenFile(e.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	header := !e.headed[ev.State.Code]
	if _, err := file.WriteString(formatEvent(ev, header)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if ev.Type == EventSessionFinished {
		delete(e.headed, ev.State.Code)
	} else {
		e.headed[ev.State.Code] = true
	}
	return nil
}

func formatEvent(ev Event, header bool) string {
	st := ev.State
	names := make(map[string]string, len(st.Roster))
	for _, c := range st.Roster {
		names[c.ID] = c.DisplayName
	}
	name := func(id string) string {
		if n, ok := names[id]; ok && n != "" {
			return n
		}
		return id
	}

	var sb strings.Builder
	r := ev.Result
	if header {
		sb.WriteString(fmt.Sprintf("\nElimination Game - Session %s\n", st.Code))
		sb.WriteString(fmt.Sprintf("Started: %s\n", st.CreatedAt.Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
		sb.WriteString("Contestants:\n")
		for _, c := range st.Roster {
			kind := "human"
			if c.IsAutomated() {
				kind = "AI"
			}
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", c.DisplayName, kind))
		}
		sb.WriteString("\n")
	}

	if r != nil {
		sb.WriteString(fmt.Sprintf("Turn %d: %q\n", r.Turn, r.Question))
		sb.WriteString(strings.Repeat("-", 40) + "\n")
		for _, id := range r.Forfeited {
			sb.WriteString(fmt.Sprintf("- %s forfeited (no answer)\n", name(id)))
		}
		rows := append([]RankedAnswer(nil), r.Rankings...)
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
		for _, row := range rows {
			sb.WriteString(fmt.Sprintf("- %s: %q (score %g)\n", name(row.ContestantID), row.Answer, row.Score))
		}
		switch {
		case r.Eliminated != "":
			sb.WriteString(fmt.Sprintf("\nEliminated: %s\n", name(r.Eliminated)))
		case ev.Type == EventRankingFailed:
			sb.WriteString("\nRanking unavailable, nobody eliminated by ranking\n")
		}
		sb.WriteString("\n")
	}

	if ev.Type == EventSessionFinished {
		if ev.State.Survivor != "" {
			sb.WriteString(fmt.Sprintf("Winner: %s\n", name(ev.State.Survivor)))
		} else {
			sb.WriteString(fmt.Sprintf("Game ended without a winner (%s)\n", ev.Reason))
		}
		sb.WriteString(fmt.Sprintf("Game ended at %s\n", ev.At.Format("2006-01-02 15:04:05")))
		sb.WriteString(strings.Repeat("=", 50) + "\n")
	}
	return sb.String()
}
