package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/monitoring"
	"github.com/banshee-data/alertcam/internal/vision"
)

var logf = monitoring.Prefixed("[Detector]")

// maxResponseBytes bounds the JSON body read from the inference service.
const maxResponseBytes = 4 << 20

// HTTPDetector posts JPEG-encoded frames to an inference service.
//
// The request is POST {endpoint}?imgsz=N&conf=T with an image/jpeg body;
// the response is {"detections":[{"class":"gun","confidence":0.9,
// "box":[x1,y1,x2,y2]}]}.
type HTTPDetector struct {
	endpoint string
	client   httputil.HTTPClient
	quality  int
}

// NewHTTPDetector creates a detector for endpoint. A nil client uses a
// StandardClient with no timeout.
func NewHTTPDetector(endpoint string, client httputil.HTTPClient) (*HTTPDetector, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detector url %q", endpoint)
	}
	if client == nil {
		client = httputil.NewStandardClient(0)
	}
	return &HTTPDetector{endpoint: endpoint, client: client, quality: 85}, nil
}

type wireDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// Predict sends frame for inference.
func (d *HTTPDetector) Predict(ctx context.Context, frame vision.Frame, inferenceSize int, threshold float64) ([]vision.Detection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrDetection, err)
	}

	u, _ := url.Parse(d.endpoint)
	q := u.Query()
	q.Set("imgsz", strconv.Itoa(inferenceSize))
	q.Set("conf", strconv.FormatFloat(threshold, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrDetection, err)
	}

	var wr wireResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(data, &wr) == nil && wr.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrDetection, resp.StatusCode, wr.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrDetection, resp.StatusCode)
	}
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrDetection, err)
	}

	out := make([]vision.Detection, 0, len(wr.Detections))
	for i, w := range wr.Detections {
		if len(w.Box) != 4 || w.Class == "" {
			logf("dropping malformed detection %d: class=%q box=%v", i, w.Class, w.Box)
			continue
		}
		if math.IsNaN(w.Confidence) || w.Confidence < 0 || w.Confidence > 1 {
			logf("dropping detection %d (%s): confidence %v outside [0,1]", i, w.Class, w.Confidence)
			continue
		}
		var box [4]int
		ok := true
		for j, v := range w.Box {
			if box[j], ok = pixelCoord(v); !ok {
				break
			}
		}
		if !ok {
			logf("dropping detection %d (%s): non-finite box %v", i, w.Class, w.Box)
			continue
		}
		out = append(out, vision.Detection{
			ClassName:  w.Class,
			Confidence: w.Confidence,
			Box:        vision.BBox{X1: box[0], Y1: box[1], X2: box[2], Y2: box[3]},
		})
	}
	return out, nil
}

// maxCoord bounds decoded box coordinates; anything beyond it is far off any
// real frame and is clamped before the overlay clips it.
const maxCoord = 1 << 20

// pixelCoord rounds v to the nearest pixel and clamps it to
// [-maxCoord, maxCoord]. NaN and infinities are rejected.
func pixelCoord(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	v = math.Round(v)
	if v > maxCoord {
		return maxCoord, true
	}
	if v < -maxCoord {
		return -maxCoord, true
	}
	return int(v), true
}
