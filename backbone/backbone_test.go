package backbone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/ctrkit/core"
)

func TestHashTokenizer(t *testing.T) {
	ctx := context.Background()
	tok := NewHashTokenizer(1000)

	ids, mask, err := tok.Tokenize(ctx, "How to Cook, rice!", 8)
	require.NoError(t, err)
	require.Len(t, ids, 8)
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 0, 0, 0}, mask)
	assert.Equal(t, int64(ClsID), ids[0])
	for i := 1; i < 5; i++ {
		assert.GreaterOrEqual(t, ids[i], int64(2))
		assert.Less(t, ids[i], int64(1000))
	}

	again, _, err := tok.Tokenize(ctx, "how to cook rice", 8)
	require.NoError(t, err)
	assert.Equal(t, ids, again, "case and punctuation are ignored")

	ids, mask, err = tok.Tokenize(ctx, "a b c d e f g h i j", 4)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)

	_, _, err = tok.Tokenize(ctx, "x", 0)
	assert.True(t, core.IsConfiguration(err))
}

func TestEmbeddingTransformer(t *testing.T) {
	ctx := context.Background()
	b := NewEmbeddingTransformer(100, 16, 7)
	assert.Equal(t, 16, b.HiddenSize())

	out, err := b.Encode(ctx, []int64{1, 5, 0}, []int64{1, 1, 0})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, row := range out {
		assert.Len(t, row, 16)
	}

	// 相同 token 在不同位置的隐藏状态不同
	out2, err := b.Encode(ctx, []int64{5, 5}, []int64{1, 1})
	require.NoError(t, err)
	assert.NotEqual(t, out2[0], out2[1])

	_, err = b.Encode(ctx, []int64{100}, []int64{1})
	assert.True(t, core.IsIndexOutOfRange(err))
}

func TestGridPoolExtractor(t *testing.T) {
	ctx := context.Background()
	g := NewGridPoolExtractor(512, 3)
	assert.Equal(t, 512, g.OutputWidth())

	img := core.NewImageTensor()
	for i := range img.Data {
		img.Data[i] = float32(i%7) / 7
	}
	a, err := g.ExtractFeatures(ctx, img)
	require.NoError(t, err)
	assert.Len(t, a, 512)
	b, err := g.ExtractFeatures(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = g.ExtractFeatures(ctx, core.ImageTensor{Data: make([]float32, 3)})
	assert.True(t, core.IsConfiguration(err))
}

func newRegistryServer(t *testing.T, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req tokenizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ids := make([]int64, req.MaxLength)
		mask := make([]int64, req.MaxLength)
		ids[0], mask[0] = ClsID, 1
		_ = json.NewEncoder(w).Encode(tokenizeResponse{InputIDs: ids, AttentionMask: mask})
	})
	mux.HandleFunc("/encode", func(w http.ResponseWriter, r *http.Request) {
		if failing != nil && failing.Load() {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		hidden := make([][]float32, len(req.InputIDs))
		for i := range hidden {
			hidden[i] = []float32{float32(req.InputIDs[i]), 1}
		}
		_ = json.NewEncoder(w).Encode(encodeResponse{HiddenStates: hidden})
	})
	mux.HandleFunc("/extract", func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "resnet18", req.Variant)
		assert.Equal(t, []int{3, 128, 128}, req.Shape)
		_ = json.NewEncoder(w).Encode(extractResponse{Features: make([]float32, 512)})
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteRegistry(t *testing.T) {
	ctx := context.Background()
	srv := newRegistryServer(t, nil)
	r := NewRemoteRegistry(srv.URL+"/", "resnet18", 2, 512, WithRemoteTimeout(time.Second))
	defer r.Close()

	require.NoError(t, r.Ping(ctx))

	ids, mask, err := r.Tokenize(ctx, "title", 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0, 0, 0}, ids)
	assert.Equal(t, []int64{1, 0, 0, 0}, mask)

	hidden, err := r.Encode(ctx, ids, mask)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, hidden[0])
	assert.Equal(t, 2, r.HiddenSize())

	feats, err := r.ExtractFeatures(ctx, core.NewImageTensor())
	require.NoError(t, err)
	assert.Len(t, feats, 512)
	assert.Equal(t, 512, r.OutputWidth())
}

func TestRemoteRegistry_BreakerOpens(t *testing.T) {
	ctx := context.Background()
	var failing atomic.Bool
	failing.Store(true)
	srv := newRegistryServer(t, &failing)
	r := NewRemoteRegistry(srv.URL, "resnet18", 2, 512, WithRemoteBreaker(2, time.Hour))

	for i := 0; i < 2; i++ {
		_, err := r.Encode(ctx, []int64{1}, []int64{1})
		assert.True(t, core.IsUnavailable(err), "attempt %d: %v", i, err)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	// 熔断后不再访问服务端
	failing.Store(false)
	_, err := r.Encode(ctx, []int64{1}, []int64{1})
	assert.True(t, core.IsUnavailable(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRemoteRegistry_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemoteRegistry(srv.URL, "resnet50", 768, 2048)
	_, err := r.ExtractFeatures(context.Background(), core.NewImageTensor())
	assert.True(t, core.IsInference(err))
}
