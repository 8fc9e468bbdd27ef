package visuals

import (
	"fmt"
	"math"
	"strings"
	"time"

	"crm-sla/internal/stats"
)

const ganttTime = "2006-01-02T15:04:05"

// GenerateTimelineGantt creates a Mermaid gantt of the stages an order went
// through. Bars span wall-clock time; labels carry working hours.
func GenerateTimelineGantt(orderID int64, intervals []stats.MeasuredInterval) string {
	if len(intervals) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("gantt\n")
	sb.WriteString(fmt.Sprintf("    title Order %d stages\n", orderID))
	sb.WriteString("    dateFormat YYYY-MM-DDTHH:mm:ss\n")
	sb.WriteString("    axisFormat %m-%d %H:%M\n")

	section := int64(-1)
	for i, iv := range intervals {
		if iv.GroupID != section {
			section = iv.GroupID
			sb.WriteString(fmt.Sprintf("    section Group %d\n", iv.GroupID))
		}
		state := "done"
		if iv.Open {
			state = "active"
		}
		end := iv.LeftAt
		// Mermaid drops zero-length bars.
		if !end.After(iv.EnteredAt) {
			end = iv.EnteredAt.Add(time.Minute)
		}
		sb.WriteString(fmt.Sprintf("    Status %d (%sh) :%s, s%d, %s, %s\n",
			iv.StatusID,
			hours(iv.WorkingSeconds),
			state,
			i,
			iv.EnteredAt.UTC().Format(ganttTime),
			end.UTC().Format(ganttTime),
		))
	}
	sb.WriteString("```")
	return sb.String()
}

// GenerateSLAChart creates a Mermaid bar chart of breached orders per stage,
// with the near count as a line.
func GenerateSLAChart(report stats.SLAReport) string {
	if len(report.Groups) == 0 {
		return ""
	}

	var labels []string
	var over []string
	var near []string
	maxVal := 0

	for _, g := range report.Groups {
		if g.Ok+g.Near+g.Over == 0 {
			continue
		}
		labels = append(labels, fmt.Sprintf("\"G%d\"", g.GroupID))
		over = append(over, fmt.Sprintf("%d", g.Over))
		near = append(near, fmt.Sprintf("%d", g.Near))
		maxVal = max(maxVal, g.Over, g.Near)
	}
	if len(labels) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString(fmt.Sprintf("    title \"SLA Breaches per Stage (%.0f%% of orders over)\"\n", report.BreachShare*100))
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"Orders\" 0 --> %d\n", maxVal+int(math.Max(1, float64(maxVal)*0.2))))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(over, ", ")))
	sb.WriteString(fmt.Sprintf("    line [%s]\n", strings.Join(near, ", ")))
	sb.WriteString("```")
	return sb.String()
}

// GenerateStageTimeChart creates a Mermaid bar chart of the median working hours per stage.
func GenerateStageTimeChart(report stats.StageTimeReport) string {
	if len(report.Groups) == 0 {
		return ""
	}

	var labels []string
	var values []string
	maxVal := 0.0

	for _, g := range report.Groups {
		h := g.MedianWorkingSeconds / 3600
		labels = append(labels, fmt.Sprintf("\"G%d\"", g.GroupID))
		values = append(values, fmt.Sprintf("%.1f", h))
		maxVal = math.Max(maxVal, h)
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString("    title \"Stage Time (Median Working Hours)\"\n")
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"Hours\" 0 --> %d\n", int(math.Ceil(math.Max(maxVal*1.2, 1)))))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString("```")
	return sb.String()
}

func hours(seconds int64) string {
	return fmt.Sprintf("%.1f", float64(seconds)/3600)
}
