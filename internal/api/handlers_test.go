package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"docchat/internal/auth"
	"docchat/internal/config"
	"docchat/internal/contentstore"
	"docchat/internal/ingest"
	"docchat/internal/models"
	"docchat/internal/observability"
	"docchat/internal/relay"
	"docchat/internal/service/ai"
	"docchat/internal/service/catalog"
	"docchat/internal/storage"
)

const testMaxUploadBytes = 1 << 20

type testServer struct {
	router    *gin.Engine
	db        *sql.DB
	catalog   *catalog.Service
	store     *mockStore
	streamer  *mockStreamer
	uploadDir string
	headers   map[string]string
	issue     func(ctx context.Context, ownerID string) (string, error)
}

func TestUploadDocumentFlow(t *testing.T) {
	srv := newTestServer(t)
	payload := bytes.Repeat([]byte("pdf-bytes-"), 1000)

	rec := postUpload(t, srv, "file", "report.pdf", "application/pdf", payload, srv.headers)
	assertStatus(t, rec, http.StatusOK)
	var body map[string]any
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body["success"] != true || body["message"] != "File uploaded successfully" {
		t.Fatalf("unexpected upload response: %v", body)
	}

	docs, err := srv.catalog.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.Filename != "report.pdf" || doc.MimeType != "application/pdf" || !doc.Synced() {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if *doc.ExternalURI != "mock://"+doc.Filename {
		t.Fatalf("external uri not recorded: %s", *doc.ExternalURI)
	}
	stored, err := os.ReadFile(doc.StoragePath)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored bytes differ from upload")
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/documents", nil, srv.headers)
	assertStatus(t, listResp, http.StatusOK)
	var listed []struct {
		Filename string `json:"filename"`
		Synced   bool   `json:"synced"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listed)
	if len(listed) != 1 || !listed[0].Synced || listed[0].Filename != "report.pdf" {
		t.Fatalf("unexpected document listing: %+v", listed)
	}
}

func TestUploadMissingFileField(t *testing.T) {
	srv := newTestServer(t)
	rec := postUpload(t, srv, "attachment", "report.pdf", "application/pdf", []byte("x"), srv.headers)
	assertStatus(t, rec, http.StatusBadRequest)
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Success || body.Error != "No file uploaded" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	assertUploadDirEmpty(t, srv)
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t)
	rec := postUpload(t, srv, "file", "big.bin", "", make([]byte, testMaxUploadBytes+1), srv.headers)
	assertStatus(t, rec, http.StatusRequestEntityTooLarge)
	if !strings.Contains(rec.Body.String(), "1MB limit") {
		t.Fatalf("expected limit in error, got %s", rec.Body.String())
	}
	assertUploadDirEmpty(t, srv)
	if srv.store.calls != 0 {
		t.Fatalf("content store must not be called for rejected uploads")
	}
}

func TestUploadContentStoreFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.store.err = fmt.Errorf("%w: quota exceeded", contentstore.ErrExternalStore)

	rec := postUpload(t, srv, "file", "notes.txt", "text/plain", []byte("hello"), srv.headers)
	assertStatus(t, rec, http.StatusInternalServerError)
	if !strings.Contains(rec.Body.String(), "quota exceeded") {
		t.Fatalf("expected underlying error in body, got %s", rec.Body.String())
	}
	docs, err := srv.catalog.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("no document row expected after store failure")
	}
	entries, err := os.ReadDir(srv.uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("local file should be kept after store failure, got %d entries", len(entries))
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	rec := postUpload(t, srv, "file", "a.txt", "text/plain", []byte("x"), nil)
	assertStatus(t, rec, http.StatusUnauthorized)
	assertUploadDirEmpty(t, srv)
}

func TestChatStreamsReplyAndCreatesChat(t *testing.T) {
	srv := newTestServer(t)
	srv.streamer.chunks = []string{"Hel", "lo", " world"}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "What is the capital of France?"}},
	}, srv.headers)
	assertStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "Hello world" {
		t.Fatalf("unexpected streamed body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	chatID := rec.Header().Get(ChatIDHeader)
	if chatID == "" {
		t.Fatalf("expected chat id header")
	}

	chatResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chatID, nil, srv.headers)
	assertStatus(t, chatResp, http.StatusOK)
	var messages []models.Message
	decodeJSON(t, chatResp.Body.Bytes(), &messages)
	if len(messages) != 2 || messages[0].Role != models.RoleUser || messages[1].Content != "Hello world" {
		t.Fatalf("unexpected stored messages: %+v", messages)
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats?query=France", nil, srv.headers)
	assertStatus(t, listResp, http.StatusOK)
	var chats []models.Chat
	decodeJSON(t, listResp.Body.Bytes(), &chats)
	if len(chats) != 1 || chats[0].ID != chatID || chats[0].Title != "What is the capital of France?" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	// A follow-up turn reuses the chat.
	srv.streamer.chunks = []string{"Madrid"}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"chatId": chatID,
		"messages": []map[string]any{
			{"role": "user", "content": "What is the capital of France?"},
			{"role": "assistant", "content": "Hello world"},
			{"role": "user", "parts": []map[string]string{{"type": "text", "text": "And Spain?"}}},
		},
	}, srv.headers)
	assertStatus(t, rec, http.StatusOK)
	if rec.Header().Get(ChatIDHeader) != chatID {
		t.Fatalf("expected same chat id")
	}
	if got := countMessages(t, srv.db, chatID); got != 4 {
		t.Fatalf("expected 4 messages, got %d", got)
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{"messages": []any{}}, srv.headers)
	assertStatus(t, rec, http.StatusBadRequest)

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	assertStatus(t, rec, http.StatusUnauthorized)

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"chatId":   "does-not-exist",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, srv.headers)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestChatModelFailureBeforeFirstChunk(t *testing.T) {
	srv := newTestServer(t)
	srv.streamer.openErr = errors.New("model unavailable")

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, srv.headers)
	assertStatus(t, rec, http.StatusInternalServerError)
	if !strings.Contains(rec.Body.String(), "model unavailable") {
		t.Fatalf("expected error details, got %s", rec.Body.String())
	}
	chatID := rec.Header().Get(ChatIDHeader)
	if chatID == "" {
		t.Fatalf("chat id should be sent even when the model fails")
	}
	if got := countMessages(t, srv.db, chatID); got != 1 {
		t.Fatalf("user message must survive model failure, got %d rows", got)
	}
}

func TestChatModelFailureMidStream(t *testing.T) {
	srv := newTestServer(t)
	srv.streamer.chunks = []string{"partial "}
	srv.streamer.streamErr = errors.New("connection reset")

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, srv.headers)
	assertStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "partial " {
		t.Fatalf("expected truncated reply, got %q", rec.Body.String())
	}
	chatID := rec.Header().Get(ChatIDHeader)
	if got := countMessages(t, srv.db, chatID); got != 1 {
		t.Fatalf("no assistant row expected after mid-stream failure, got %d rows", got)
	}
}

func TestChatCRUD(t *testing.T) {
	srv := newTestServer(t)

	createResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chats", map[string]string{}, srv.headers)
	assertStatus(t, createResp, http.StatusOK)
	var chat models.Chat
	decodeJSON(t, createResp.Body.Bytes(), &chat)
	if chat.ID == "" || chat.Title != relay.DefaultTitle {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats", nil, srv.headers)
	assertStatus(t, listResp, http.StatusOK)
	var chats []models.Chat
	decodeJSON(t, listResp.Body.Bytes(), &chats)
	if len(chats) != 1 {
		t.Fatalf("expected one chat, got %d", len(chats))
	}

	otherHeaders := issueHeaders(t, srv, "someone-else")
	getResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chat.ID, nil, otherHeaders)
	assertStatus(t, getResp, http.StatusNotFound)
	delResp := doJSONRequest(t, srv.router, http.MethodDelete, "/api/chats/"+chat.ID, nil, otherHeaders)
	assertStatus(t, delResp, http.StatusNotFound)

	delResp = doJSONRequest(t, srv.router, http.MethodDelete, "/api/chats/"+chat.ID, nil, srv.headers)
	assertStatus(t, delResp, http.StatusNoContent)
	getResp = doJSONRequest(t, srv.router, http.MethodGet, "/api/chats/"+chat.ID, nil, srv.headers)
	assertStatus(t, getResp, http.StatusNotFound)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)

	postUpload(t, srv, "file", "a.txt", "text/plain", []byte("x"), srv.headers)
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `docchat_uploads_total{outcome="ok"} 1`) {
		t.Fatalf("upload metric missing from exposition")
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	uploadDir := t.TempDir()
	sink, err := ingest.NewFileSink(uploadDir, testMaxUploadBytes, nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	cat := catalog.NewService(db, nil)
	store := &mockStore{}
	streamer := &mockStreamer{}
	authSvc := auth.NewService(db, nil, time.Hour, nil)

	handler := NewHandler(Deps{
		Catalog:  cat,
		Receiver: ingest.NewReceiver(sink, nil),
		Store:    store,
		Relay:    relay.New(cat, streamer, nil, relay.WithMetrics(metrics)),
		Auth:     authSvc,
		Metrics:  metrics,
		Gatherer: reg,
		DB:       db,
	})
	router := NewRouter(nil, nil)
	handler.RegisterRoutes(router)

	srv := &testServer{
		router:    router,
		db:        db,
		catalog:   cat,
		store:     store,
		streamer:  streamer,
		uploadDir: uploadDir,
	}
	token, err := authSvc.IssueToken(context.Background(), "owner_1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	srv.headers = map[string]string{"Authorization": "Bearer " + token}
	srv.issue = authSvc.IssueToken
	return srv
}

func issueHeaders(t *testing.T, srv *testServer, ownerID string) map[string]string {
	t.Helper()
	token, err := srv.issue(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func postUpload(t *testing.T, srv *testServer, field, filename, contentType string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("description", "uploaded from test"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename)}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertUploadDirEmpty(t *testing.T, srv *testServer) {
	t.Helper()
	entries, err := os.ReadDir(srv.uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty upload dir, found %d entries", len(entries))
	}
}

func countMessages(t *testing.T, db *sql.DB, chatID string) int {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return count
}

type mockStore struct {
	err   error
	calls int
}

func (m *mockStore) Kind() string { return "mock" }

func (m *mockStore) Upload(ctx context.Context, path, displayName, mimeType string) (*contentstore.Reference, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &contentstore.Reference{URI: "mock://" + displayName, MimeType: mimeType, Name: displayName}, nil
}

type mockStreamer struct {
	chunks    []string
	openErr   error
	streamErr error
}

func (m *mockStreamer) Stream(ctx context.Context, req ai.Request) (ai.Stream, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &mockStream{chunks: append([]string(nil), m.chunks...), err: m.streamErr}, nil
}

type mockStream struct {
	chunks []string
	err    error
}

func (s *mockStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *mockStream) Close() {}
