package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
)

var errTableWithPath = errors.New("--jsonpath cannot be combined with table output")

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

type printer struct {
	out    io.Writer
	format string
	path   jp.Expr
}

func newPrinter(out io.Writer, format, jsonPath string) (*printer, error) {
	ret := &printer{out: out, format: format}
	switch format {
	case formatJSON, formatYAML:
	case formatTable:
		if jsonPath != "" {
			return nil, errTableWithPath
		}
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	if jsonPath != "" {
		x, err := jp.ParseString(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath %q: %w", jsonPath, err)
		}
		ret.path = x
	}
	return ret, nil
}

func (p *printer) printState(state *model.RaceState) error {
	if p.format == formatTable {
		_, err := fmt.Fprintln(p.out, renderTable(state))
		return err
	}
	return p.printValue(state)
}

// printEvent ignores the table format, events are printed as json lines then
func (p *printer) printEvent(ev model.ChangeEvent) error {
	if p.format == formatTable {
		_, err := fmt.Fprintf(p.out, "%-16s %-8s %-6s %s -> %s\n",
			ev.Type, ev.Series, ev.DriverID, ev.Old, ev.New)
		return err
	}
	return p.printValue(ev)
}

// printValue converts v to its json representation first so that yaml output
// and jsonpath expressions use the json field names.
func (p *printer) printValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	obj, err := oj.Parse(data)
	if err != nil {
		return err
	}
	if p.path != nil {
		res := p.path.Get(obj)
		if len(res) == 1 {
			obj = res[0]
		} else {
			obj = res
		}
	}
	switch p.format {
	case formatYAML:
		out, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.out, "---\n%s", out)
		return err
	default:
		_, err = fmt.Fprintln(p.out, oj.JSON(obj, &oj.Options{Sort: true}))
		return err
	}
}

func renderTable(state *model.RaceState) string {
	title := fmt.Sprintf("%s %s  lap %s  %s",
		state.Series, state.SessionName, lapInfo(state), state.FlagStatus)
	if state.TimeRemaining != "" {
		title += "  " + state.TimeRemaining
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("POS", "NO", "DRIVER", "TEAM", "GAP", "INT", "LAST", "BEST", "PIT", "STATUS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		})
	for i := range state.Drivers {
		d := &state.Drivers[i]
		t.Row(
			strconv.Itoa(d.Position),
			d.DriverID,
			d.Name,
			d.Team,
			gap(d.GapToLeader),
			gap(d.GapToAhead),
			lapTime(d.LastLapTime),
			lapTime(d.BestLapTime),
			strconv.Itoa(d.PitStops),
			string(d.Status),
		)
	}
	return titleStyle.Render(title) + "\n" + t.String()
}

func lapInfo(state *model.RaceState) string {
	if state.TotalLaps > 0 {
		return fmt.Sprintf("%d/%d", state.CurrentLap, state.TotalLaps)
	}
	return strconv.Itoa(state.CurrentLap)
}

func gap(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("+%.3f", *v)
}

// lapTime formats seconds as m:ss.fff
func lapTime(v float64) string {
	if v <= 0 {
		return "-"
	}
	ms := int64(v*1000 + 0.5)
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}
