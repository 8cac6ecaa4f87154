package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/alertcam/internal/httputil"
	"github.com/banshee-data/alertcam/internal/monitoring"
	"github.com/banshee-data/alertcam/internal/vision"
)

func testFrame() vision.Frame {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

func newTestDetector(t *testing.T, mock *httputil.MockHTTPClient) *HTTPDetector {
	t.Helper()
	d, err := NewHTTPDetector("http://inference.local:8000/detect", mock)
	require.NoError(t, err)
	return d
}

func TestHTTPDetectorRequestShape(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"detections":[]}`)
	d := newTestDetector(t, mock)

	_, err := d.Predict(context.Background(), testFrame(), 320, 0.5)
	require.NoError(t, err)

	require.Equal(t, 1, mock.RequestCount())
	req, body := mock.GetRequest(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/detect", req.URL.Path)
	assert.Equal(t, "320", req.URL.Query().Get("imgsz"))
	assert.Equal(t, "0.5", req.URL.Query().Get("conf"))
	assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))

	img, err := jpeg.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
}

func TestHTTPDetectorDecodesDetections(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"detections":[
		{"class":"gun","confidence":0.91,"box":[10.7,20,110,220]},
		{"class":"person","confidence":0.4,"box":[1,2,3,4]}
	]}`)
	d := newTestDetector(t, mock)

	got, err := d.Predict(context.Background(), testFrame(), 320, 0.3)
	require.NoError(t, err)

	want := []vision.Detection{
		{ClassName: "gun", Confidence: 0.91, Box: vision.BBox{X1: 11, Y1: 20, X2: 110, Y2: 220}},
		{ClassName: "person", Confidence: 0.4, Box: vision.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Predict() mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPDetectorDropsMalformed(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"detections":[
		{"class":"gun","confidence":0.9,"box":[1,2,3]},
		{"class":"","confidence":0.9,"box":[1,2,3,4]},
		{"class":"knife","confidence":0.8,"box":[5,6,7,8]}
	]}`)
	d := newTestDetector(t, mock)

	got, err := d.Predict(context.Background(), testFrame(), 320, 0.3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "knife", got[0].ClassName)
	assert.Len(t, logged, 2)
}

func TestHTTPDetectorBoundsConfidenceAndBox(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"detections":[
		{"class":"gun","confidence":1.5,"box":[1,2,3,4]},
		{"class":"gun","confidence":-0.1,"box":[1,2,3,4]},
		{"class":"knife","confidence":0.8,"box":[-1e300,2.4,1e300,7.5]},
		{"class":"person","confidence":1,"box":[0,0,0,0]}
	]}`)
	d := newTestDetector(t, mock)

	got, err := d.Predict(context.Background(), testFrame(), 320, 0.3)
	require.NoError(t, err)

	want := []vision.Detection{
		{ClassName: "knife", Confidence: 0.8, Box: vision.BBox{X1: -maxCoord, Y1: 2, X2: maxCoord, Y2: 8}},
		{ClassName: "person", Confidence: 1, Box: vision.BBox{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Predict() mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, logged, 2)
}

func TestPixelCoord(t *testing.T) {
	tests := []struct {
		in   float64
		want int
		ok   bool
	}{
		{10.4, 10, true},
		{10.5, 11, true},
		{-3.6, -4, true},
		{2 * maxCoord, maxCoord, true},
		{-2 * maxCoord, -maxCoord, true},
		{math.Inf(1), 0, false},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		got, ok := pixelCoord(tt.in)
		assert.Equal(t, tt.ok, ok, "pixelCoord(%v)", tt.in)
		assert.Equal(t, tt.want, got, "pixelCoord(%v)", tt.in)
	}
}

func TestHTTPDetectorErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m *httputil.MockHTTPClient)
		wantMsg string
	}{
		{"transport", func(m *httputil.MockHTTPClient) { m.AddErrorResponse(errors.New("connection refused")) }, "connection refused"},
		{"status", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusBadGateway, "") }, "status 502"},
		{"status with message", func(m *httputil.MockHTTPClient) {
			m.AddResponse(http.StatusInternalServerError, `{"error":"model not loaded"}`)
		}, "model not loaded"},
		{"bad json", func(m *httputil.MockHTTPClient) { m.AddResponse(http.StatusOK, "{not json") }, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			tt.setup(mock)
			d := newTestDetector(t, mock)

			_, err := d.Predict(context.Background(), testFrame(), 320, 0.5)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDetection)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewHTTPDetectorRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8000", "://x", "/detect"} {
		_, err := NewHTTPDetector(u, nil)
		assert.Error(t, err, "url %q", u)
	}
}

func TestHTTPDetectorKeepsExistingQuery(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"detections":[]}`)
	d, err := NewHTTPDetector("http://h/detect?model=yolov8n", mock)
	require.NoError(t, err)

	_, err = d.Predict(context.Background(), testFrame(), 640, 0.25)
	require.NoError(t, err)
	req, _ := mock.GetRequest(0)
	assert.Equal(t, "yolov8n", req.URL.Query().Get("model"))
	assert.Equal(t, "640", req.URL.Query().Get("imgsz"))
	assert.Equal(t, "0.25", req.URL.Query().Get("conf"))
}
