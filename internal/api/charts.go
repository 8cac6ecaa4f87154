package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/alertcam/internal/httputil"
)

// maxChartPoints bounds the points sent to the browser; longer sessions are
// decimated by taking every n-th frame.
const maxChartPoints = 2000

// handleFPSChart renders the frame rate and inference latency of the current
// or most recent session as an HTML line chart.
func (s *Server) handleFPSChart(w http.ResponseWriter, r *http.Request) {
	fps, lat := s.p.FrameSeries()
	if len(fps) == 0 {
		httputil.NotFound(w, "no frames in the current session")
		return
	}

	stride := 1
	if len(fps) > maxChartPoints {
		stride = (len(fps) + maxChartPoints - 1) / maxChartPoints
	}
	x := make([]string, 0, len(fps)/stride+1)
	fpsData := make([]opts.LineData, 0, len(fps)/stride+1)
	latData := make([]opts.LineData, 0, len(fps)/stride+1)
	for i := 0; i < len(fps); i += stride {
		x = append(x, strconv.Itoa(i))
		fpsData = append(fpsData, opts.LineData{Value: fps[i]})
		if i < len(lat) {
			latData = append(latData, opts.LineData{Value: lat[i]})
		}
	}

	st := s.p.Status()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Session frame rate", Theme: "dark", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Session frame rate",
			Subtitle: fmt.Sprintf("state=%s frames=%d stride=%d mean=%.1f fps p95 inference=%.0f ms", st.State, len(fps), stride, st.Stats.MeanFPS, st.Stats.P95InferenceMs),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "fps"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "inference (ms)"})
	line.SetXAxis(x).
		AddSeries("fps", fpsData).
		AddSeries("inference ms", latData, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	page := components.NewPage()
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
