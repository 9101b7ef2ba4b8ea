package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/golang/geo/r2"

	"github.com/ulissebordignon/voxeltrack/internal/httputil"
)

func scatterData(seq []r2.Point, maxAbs *float64) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(seq))
	for i, p := range seq {
		*maxAbs = math.Max(*maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, i}})
	}
	return data
}

// handleTracksChart renders every cluster's trail as an HTML scatter.
// Query params:
//   - unrefined (optional; "1" adds the first-pass centres)
func (ws *WebServer) handleTracksChart(w http.ResponseWriter, r *http.Request) {
	refined := ws.tracker.GetRefinedCenters()
	var unrefined [][]r2.Point
	if r.URL.Query().Get("unrefined") == "1" {
		unrefined = ws.tracker.GetUnrefinedCenters()
	}
	colors := clusterColors(ws.tracker.GetColorModels(), max(len(refined), len(unrefined)))

	maxAbs := 0.0
	points := 0
	scatter := charts.NewScatter()
	for k, seq := range refined {
		hex := fmt.Sprintf("#%02x%02x%02x", colors[k].R, colors[k].G, colors[k].B)
		scatter.AddSeries(fmt.Sprintf("cluster %d", k), scatterData(seq, &maxAbs),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex}),
		)
		points += len(seq)
	}
	for k, seq := range unrefined {
		hex := fmt.Sprintf("#%02x%02x%02x", colors[k].R, colors[k].G, colors[k].B)
		scatter.AddSeries(fmt.Sprintf("cluster %d (unrefined)", k), scatterData(seq, &maxAbs),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hex}),
		)
		points += len(seq)
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Voxel Tracks", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cluster trails", Subtitle: fmt.Sprintf("state=%s frames=%d points=%d", ws.tracker.State(), ws.tracker.FramesTracked(), points)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y", NameLocation: "middle", NameGap: 30}),
	)

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render tracks chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
