package delivery

import (
	"fmt"
	"strings"

	"github.com/roach88/coachflow/internal/domain"
)

var actionHeadlines = map[domain.ActionType]string{
	domain.ActionAnalyze:        "Analysis",
	domain.ActionSummarize:      "Summary",
	domain.ActionCompare:        "Comparison",
	domain.ActionAlert:          "Alert",
	domain.ActionRemind:         "Reminder",
	domain.ActionEncourage:      "Keep it up",
	domain.ActionAsk:            "Quick question",
	domain.ActionDeliverMessage: "Message",
}

// FormatText renders a payload into the plain-text message body posted to
// the delivery channel. The body is deterministic for a given payload so
// golden tests can assert on it.
func FormatText(p domain.Payload) string {
	var b strings.Builder

	headline := actionHeadlines[p.Action]
	if headline == "" {
		headline = string(p.Action)
	}
	b.WriteString(headline)
	if p.Delivery.Urgency == "high" {
		b.WriteString(" (urgent)")
	}
	b.WriteString("\n")

	if msg := p.Params["message"]; msg != "" {
		b.WriteString(msg)
		b.WriteString("\n")
	}

	for _, dp := range p.DataPoints {
		b.WriteString(formatDataPoint(dp))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatDataPoint(dp domain.DataPointValue) string {
	if !dp.HasCurrent {
		return fmt.Sprintf("- %s: no data yet", dp.MetricID)
	}
	if dp.Reference == nil {
		return fmt.Sprintf("- %s: %s", dp.MetricID, trimFloat(dp.Current))
	}

	delta := dp.Current - *dp.Reference
	sign := "+"
	if delta < 0 {
		sign = ""
	}
	return fmt.Sprintf("- %s: %s (%s %s, %s%s)",
		dp.MetricID, trimFloat(dp.Current),
		referenceLabel(dp.Comparison), trimFloat(*dp.Reference),
		sign, trimFloat(delta))
}

func referenceLabel(c domain.Comparison) string {
	switch c {
	case domain.ComparePrevious:
		return "previous"
	case domain.CompareAverage:
		return "avg"
	case domain.CompareGoal:
		return "goal"
	case domain.CompareBest:
		return "best"
	default:
		return string(c)
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
