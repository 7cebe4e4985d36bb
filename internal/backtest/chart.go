package backtest

import (
	"fmt"
	"sort"

	"github.com/newthinker/arena/internal/core"
)

const (
	colorLong  = "#26a69a"
	colorShort = "#ef5350"
	colorExit  = "#9e9e9e"
)

// BuildMarkers returns one entry marker per trade and one exit marker per
// closed trade, ordered by time.
func BuildMarkers(trades []core.Trade) []Marker {
	markers := make([]Marker, 0, len(trades)*2)
	for _, t := range trades {
		entry := Marker{
			Time:  t.EntryTime,
			Kind:  "entry",
			Price: t.EntryPrice,
		}
		if t.Direction == core.Short {
			entry.Position, entry.Shape, entry.Color = "aboveBar", "arrowDown", colorShort
			entry.Text = fmt.Sprintf("SHORT @ %.2f", t.EntryPrice)
		} else {
			entry.Position, entry.Shape, entry.Color = "belowBar", "arrowUp", colorLong
			entry.Text = fmt.Sprintf("LONG @ %.2f", t.EntryPrice)
		}
		markers = append(markers, entry)

		if t.IsOpen || t.ExitTime == nil {
			continue
		}
		color := colorExit
		switch t.CloseReason {
		case core.CloseTP:
			color = colorLong
		case core.CloseSL:
			color = colorShort
		}
		markers = append(markers, Marker{
			Time:     *t.ExitTime,
			Kind:     "exit",
			Position: "aboveBar",
			Shape:    "circle",
			Color:    color,
			Price:    t.ExitPrice,
			Text:     fmt.Sprintf("%s %+.2f%%", t.CloseReason, t.ReturnPct),
		})
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].Time.Before(markers[j].Time)
	})
	return markers
}

// Overlays converts indicator series for JSON output.
func Overlays(indicators map[string][]float64) map[string]Series {
	out := make(map[string]Series, len(indicators))
	for k, v := range indicators {
		out[k] = Series(v)
	}
	return out
}

// IndicatorNames lists indicator keys in sorted order.
func IndicatorNames(indicators map[string][]float64) []string {
	names := make([]string, 0, len(indicators))
	for k := range indicators {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
