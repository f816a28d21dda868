package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecollect/internal/audio"
	"voicecollect/internal/ingest"
	"voicecollect/internal/prompts"
	"voicecollect/internal/storage"
	"voicecollect/pkg/apperr"
	"voicecollect/pkg/model"
	"voicecollect/pkg/resilience"
)

var sample = []model.Prompt{
	{ID: "a", Text: "Hello"},
	{ID: "b", Text: "World"},
}

type testServer struct {
	srv      *httptest.Server
	queue    *prompts.MemoryQueue
	provider *storage.MemoryProvider
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	queue := prompts.NewMemoryQueue(sample...)
	provider := storage.NewMemoryProvider("https://cdn.test")
	gateway := storage.NewGateway(provider, "voice-recordings",
		storage.WithRequestTimeout(time.Second),
		storage.WithRetry(&resilience.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      2,
		}),
	)
	svc := ingest.NewService(queue, audio.NewNormalizer(), gateway)

	srv := httptest.NewServer(NewHandler(queue, svc, opts...).Router())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, queue: queue, provider: provider}
}

// pcmWAV is a 16 kHz mono 16-bit WAV of silence
func pcmWAV(frames int) []byte {
	var buf bytes.Buffer
	size := uint32(frames * 2)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+size)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, []uint32{16})
	binary.Write(&buf, binary.LittleEndian, []uint16{1, 1})
	binary.Write(&buf, binary.LittleEndian, []uint32{16000, 32000})
	binary.Write(&buf, binary.LittleEndian, []uint16{2, 16})
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, size)
	buf.Write(make([]byte, size))
	return buf.Bytes()
}

func multipartBody(t *testing.T, id string, audioData []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if id != "" {
		require.NoError(t, mw.WriteField("id", id))
	}
	if audioData != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="audio"; filename="recording.wav"`)
		h.Set("Content-Type", "audio/wav")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(audioData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func (ts *testServer) postAudio(t *testing.T, path, id string, audioData []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, id, audioData)
	resp, err := http.Post(ts.srv.URL+path, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGetTexts(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/texts")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sample, decode[[]model.Prompt](t, resp))
}

func TestUploadTexts(t *testing.T) {
	ts := newTestServer(t)

	body := `{"texts":[{"id":"x","text":"One"},{"id":"y","text":"Two"}]}`
	resp, err := http.Post(ts.srv.URL+"/texts/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Texts uploaded successfully", decode[messageResponse](t, resp).Message)

	got, err := ts.queue.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Prompt{{ID: "x", Text: "One"}, {ID: "y", Text: "Two"}}, got)
}

func TestUploadTexts_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing texts", body: `{}`},
		{name: "texts not a list", body: `{"texts":"a"}`},
		{name: "prompt without id", body: `{"texts":[{"text":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp, err := http.Post(ts.srv.URL+"/texts/upload", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, apperr.KindValidation, decode[errorResponse](t, resp).Error.Kind)

			got, err := ts.queue.LoadAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, sample, got)
		})
	}
}

func TestUploadTexts_TooLarge(t *testing.T) {
	ts := newTestServer(t, WithMaxUploadBytes(16))

	body := `{"texts":[{"id":"x","text":"a long enough body"}]}`
	resp, err := http.Post(ts.srv.URL+"/texts/upload", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRemoveFirst(t *testing.T) {
	ts := newTestServer(t)

	remove := func() messageResponse {
		req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/texts/remove-first", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decode[messageResponse](t, resp)
	}

	assert.Equal(t, "First text removed", remove().Message)
	assert.Equal(t, "First text removed", remove().Message)
	assert.Equal(t, "queue is empty", remove().Message)
}

func TestUploadAudio(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postAudio(t, "/audio/upload", "a", pcmWAV(1600))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[uploadAudioResponse](t, resp)
	assert.Equal(t, "https://cdn.test/voice-recordings/a.wav", out.FileURL)

	got, err := ts.queue.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sample[1:], got)
}

func TestUploadAudio_Errors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		audio  []byte
		status int
		kind   apperr.Kind
	}{
		{name: "stale prompt", id: "b", audio: pcmWAV(160), status: http.StatusConflict, kind: apperr.KindStalePrompt},
		{name: "missing id", audio: pcmWAV(160), status: http.StatusBadRequest, kind: apperr.KindValidation},
		{name: "missing audio", id: "a", status: http.StatusBadRequest, kind: apperr.KindValidation},
		{name: "unsupported", id: "a", audio: append([]byte("fLaC"), make([]byte, 64)...), status: http.StatusUnsupportedMediaType, kind: apperr.KindUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp := ts.postAudio(t, "/audio/upload", tt.id, tt.audio)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decode[errorResponse](t, resp).Error.Kind)
			assert.Equal(t, 0, ts.provider.Puts())
		})
	}
}

func TestUploadAudio_ConflictThenRerecord(t *testing.T) {
	ts := newTestServer(t)

	// A stale object left behind by an earlier run
	_, err := ts.provider.Put(context.Background(), "voice-recordings/a.wav", []byte("old"), model.CollisionOverwrite)
	require.NoError(t, err)

	resp := ts.postAudio(t, "/audio/upload", "a", pcmWAV(160))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperr.KindConflict, decode[errorResponse](t, resp).Error.Kind)

	resp = ts.postAudio(t, "/audio/rerecord", "a", pcmWAV(160))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "voice-recordings/a.wav", decode[uploadAudioResponse](t, resp).Key)
}

func TestUploadAudio_StorageDown(t *testing.T) {
	ts := newTestServer(t)
	down := storage.Transient(errors.New("503"))
	ts.provider.FailNext(down, down)

	resp := ts.postAudio(t, "/audio/upload", "a", pcmWAV(160))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, apperr.KindStorage, decode[errorResponse](t, resp).Error.Kind)
}

func TestWriteError_PartialSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &ingest.PartialSuccessError{
		PromptID: "a",
		Key:      "voice-recordings/a.wav",
		URL:      "https://cdn.test/voice-recordings/a.wav",
		Err:      errors.New("queue down"),
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var out errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, apperr.KindPartialSuccess, out.Error.Kind)
	assert.Equal(t, "https://cdn.test/voice-recordings/a.wav", out.FileURL)
	assert.Equal(t, "voice-recordings/a.wav", out.Key)
}

func TestWriteError_StoredKeyOnLinkFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.Wrap(apperr.KindStorage, errors.New("503"), "recording stored but link resolution failed").
		WithContext(ingest.StoredKeyContext, "voice-recordings/a.wav"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var out errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, apperr.KindStorage, out.Error.Kind)
	assert.Equal(t, "voice-recordings/a.wav", out.Key)
	assert.Empty(t, out.FileURL)
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	var out errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", out.Error.Message)
}

func TestListFiles(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.postAudio(t, "/audio/upload", "a", pcmWAV(160)).StatusCode)

	resp, err := http.Get(ts.srv.URL + "/audio/files")
	require.NoError(t, err)
	defer resp.Body.Close()

	files := decode[[]fileEntry](t, resp)
	require.Len(t, files, 1)
	assert.Equal(t, "a.wav", files[0].Name)
	assert.Equal(t, "https://cdn.test/voice-recordings/a.wav", files[0].URL)
	assert.False(t, files[0].CreatedAt.IsZero())
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t, WithAllowedOrigin("http://localhost:3000"))

	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/audio/upload", nil)
	require.NoError(t, err)
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	assert.Equal(t, http.StatusNoContent, pre.StatusCode)
	assert.Contains(t, pre.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("voicecollect_ingest_total 0\n"))
	})
	ts := newTestServer(t, WithMetrics(metrics))

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
