package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/backbone"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/encoder"
	"github.com/rushteam/ctrkit/feast"
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/nn"
	"github.com/rushteam/ctrkit/service"
)

func newTestModel(t *testing.T) *model.HybridModel {
	t.Helper()
	m, err := model.New(model.Config{ImageVariant: "resnet18", HiddenWidths: []int{32, 16, 16}, Seed: 1}, model.Backbones{
		Tokenizer: backbone.NewHashTokenizer(200),
		Text:      backbone.NewEmbeddingTransformer(200, 16, 11),
		Image:     backbone.NewGridPoolExtractor(512, 12),
	})
	require.NoError(t, err)
	return m
}

func thumbnailBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(4 * x), G: 30, B: uint8(2 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func ptr[T any](v T) *T { return &v }

func validRequest(t *testing.T) PredictRequest {
	return PredictRequest{
		VideoTitle:           ptr("I tried every fast food burger"),
		VideoLength:          ptr("00:18:02"),
		ChannelSubscribers:   ptr[int64](2500000),
		TotalChannelViews:    ptr[int64](800000000),
		TotalVideos:          ptr[int64](310),
		VideoUploadDayofWeek: ptr(2),
		VideoUploadHour:      ptr(15),
		ChannelAgeYears:      ptr[int64](6),
		Thumbnail:            ptr(thumbnailBase64(t)),
	}
}

func post(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPredictEndpoint(t *testing.T) {
	h := NewRouter(NewHandler(service.New(newTestModel(t))))

	rec := post(t, h, validRequest(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Degraded)
	assert.GreaterOrEqual(t, resp.Prediction, 0)
	assert.Less(t, resp.Prediction, model.DefaultNumClasses)
}

func TestPredictEndpoint_Errors(t *testing.T) {
	h := NewRouter(NewHandler(service.New(newTestModel(t))))

	tests := []struct {
		name   string
		mutate func(*PredictRequest)
		status int
		code   string
	}{
		{"bad hour", func(r *PredictRequest) { r.VideoUploadHour = ptr(24) }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"negative views", func(r *PredictRequest) { r.TotalChannelViews = ptr[int64](-1) }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"empty thumbnail", func(r *PredictRequest) { r.Thumbnail = ptr("") }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"missing thumbnail", func(r *PredictRequest) { r.Thumbnail = nil }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"missing subscribers", func(r *PredictRequest) { r.ChannelSubscribers = nil }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"missing upload hour", func(r *PredictRequest) { r.VideoUploadHour = nil }, http.StatusBadRequest, core.ErrorCodeInvalidInput},
		{"not base64", func(r *PredictRequest) { r.Thumbnail = ptr("%%%") }, http.StatusBadRequest, core.ErrorCodeInvalidImage},
		{"not an image", func(r *PredictRequest) {
			r.Thumbnail = ptr(base64.StdEncoding.EncodeToString([]byte("plain text")))
		}, http.StatusBadRequest, core.ErrorCodeInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(t)
			tt.mutate(&req)
			rec := post(t, h, req)
			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictEndpoint_MissingFields(t *testing.T) {
	h := NewRouter(NewHandler(service.New(newTestModel(t))))

	rec := post(t, h, map[string]any{
		"videoTitle":  "I tried every fast food burger",
		"videoLength": "00:18:02",
		"thumbnail":   thumbnailBase64(t),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, core.ErrorCodeInvalidInput, resp.Code)
	assert.Contains(t, resp.Detail, "channelSubscribers")

	zero := validRequest(t)
	zero.VideoUploadHour = ptr(0)
	zero.VideoUploadDayofWeek = ptr(0)
	rec = post(t, h, zero)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredictEndpoint_BodyLimit(t *testing.T) {
	h := NewRouter(NewHandler(service.New(newTestModel(t)), WithMaxBodyBytes(64)))
	rec := post(t, h, validRequest(t))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictEndpoint_ModelUnavailable(t *testing.T) {
	h := NewRouter(NewHandler(service.New(nil)))
	rec := post(t, h, validRequest(t))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	m := newTestModel(t)
	tests := []struct {
		name   string
		svc    *service.InferenceService
		status int
		want   string
	}{
		{"degraded", service.New(m), http.StatusOK, service.StatusDegraded},
		{"unavailable", service.New(nil), http.StatusServiceUnavailable, service.StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewRouter(NewHandler(tt.svc)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.status, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(NewHandler(service.New(newTestModel(t))))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ctrkit_model_degraded")
}

type stubFeast struct{}

func (stubFeast) GetOnlineFeatures(_ context.Context, req *feast.GetOnlineFeaturesRequest) (*feast.GetOnlineFeaturesResponse, error) {
	if req.EntityRows[0]["channel_id"] != "UC1" {
		return &feast.GetOnlineFeaturesResponse{}, nil
	}
	values := map[string]any{}
	for _, ref := range req.Features {
		values[ref] = float64(1)
	}
	return &feast.GetOnlineFeaturesResponse{FeatureVectors: []feast.FeatureVector{{Values: values}}}, nil
}

func (stubFeast) Close() error { return nil }

func TestChannelEmbeddingEndpoint(t *testing.T) {
	enc, err := encoder.NewChannelMetadataEncoder(4, 4, 16, nn.NewInitializer(2))
	require.NoError(t, err)
	embedder := service.NewChannelEmbedder(feast.NewChannelSource(stubFeast{}, feast.DefaultChannelFeatureRefs(), "ctr"), enc)
	h := NewRouter(NewHandler(service.New(newTestModel(t)), WithChannelEmbedder(embedder)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels/UC1/embedding", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ChannelEmbeddingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Embedding, 16)
	assert.False(t, resp.Trained)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels/UC404/embedding", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
