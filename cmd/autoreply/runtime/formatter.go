package runtime

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/orchestrator"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

// TableFormatter renders outcomes and history for the terminal.
type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
	respondStyle lipgloss.Style
	skipStyle    lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
		respondStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true),
		skipStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
	}
}

func (f *TableFormatter) FormatOutcome(out orchestrator.Outcome) string {
	verdict := f.skipStyle.Render("SKIP")
	if out.ShouldRespond {
		verdict = f.respondStyle.Render("RESPOND")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("Run", out.RunID)
	t.Row("Verdict", verdict)
	t.Row("Reason", out.Reason)
	t.Row("Status", string(out.Status))
	t.Row("Confidence", fmt.Sprintf("%.2f", out.ConfidenceScore))
	t.Row("Urgency", fmt.Sprintf("%.2f (%s, %s)", out.ContextAssessment.UrgencyLevel, out.ContextAssessment.Sentiment, out.ContextAssessment.AnalysisStatus))
	t.Row("Style", fmt.Sprintf("%.2f (%s, %d messages)", out.StyleProfile.ConfidenceScore, out.StyleProfile.AnalysisStatus, out.StyleProfile.MessageCountAnalyzed))
	if out.Response != nil {
		t.Row("Response", wrap(out.Response.Text, 60))
		t.Row("Tone", out.Response.ToneVariant)
	}
	t.Row("Factors", formatFactors(out.Decision.Factors))
	if at := out.Decision.LastAutoResponseAt; at != nil {
		t.Row("Last reply", at.Local().Format(time.DateTime))
	}
	for i, s := range out.Suggestions {
		label := ""
		if i == 0 {
			label = "Suggestions"
		}
		t.Row(label, fmt.Sprintf("[%s/%s] %s", s.Priority, s.Category, truncateString(s.Text, 60)))
	}
	for i, e := range out.Errors {
		label := ""
		if i == 0 {
			label = "Errors"
		}
		t.Row(label, fmt.Sprintf("%s: %s", e.Stage, truncateString(e.Message, 60)))
	}
	t.Row("Duration", out.Duration.Round(time.Millisecond).String())

	return t.String()
}

func (f *TableFormatter) FormatMessages(msgs []history.Message) string {
	if len(msgs) == 0 {
		return "No messages found"
	}

	t := f.listTable().Headers("Sent", "From", "To", "Message")
	for _, m := range msgs {
		t.Row(
			m.SentAt.Local().Format("2006-01-02 15:04"),
			truncateString(m.SenderID, 16),
			truncateString(m.RecipientID, 16),
			truncateString(m.Content, 50),
		)
	}
	return t.String()
}

func (f *TableFormatter) FormatAutoResponses(recs []history.AutoResponse) string {
	if len(recs) == 0 {
		return "No auto-responses recorded"
	}

	t := f.listTable().Headers("Sent", "To", "Confidence", "Response")
	for _, r := range recs {
		t.Row(
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncateString(r.RequesterID, 16),
			fmt.Sprintf("%.2f", r.Confidence),
			truncateString(r.ResponseText, 50),
		)
	}
	return t.String()
}

func (f *TableFormatter) listTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		})
}

func formatFactors(factors map[string]bool) string {
	if len(factors) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(factors))
	for k := range factors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		mark := "no"
		if factors[k] {
			mark = "ok"
		}
		parts[i] = k + "=" + mark
	}
	return strings.Join(parts, "\n")
}

func wrap(s string, width int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	var (
		b    strings.Builder
		line int
	)
	for i, w := range words {
		if i > 0 {
			if line+1+len(w) > width {
				b.WriteByte('\n')
				line = 0
			} else {
				b.WriteByte(' ')
				line++
			}
		}
		b.WriteString(w)
		line += len(w)
	}
	return b.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
