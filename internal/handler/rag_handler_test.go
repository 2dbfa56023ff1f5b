package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragdesk/internal/config"
	"github.com/xxxsen/ragdesk/internal/filestore"
	"github.com/xxxsen/ragdesk/internal/handler"
	"github.com/xxxsen/ragdesk/internal/model"
	"github.com/xxxsen/ragdesk/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
	"github.com/xxxsen/ragdesk/internal/service"
)

type fakeIngester struct {
	text       string
	collection string
	err        error
}

func (f *fakeIngester) Ingest(_ context.Context, text string, collectionName string) (*model.IngestStats, error) {
	f.text = text
	f.collection = collectionName
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestStats{
		Collection:        collectionName,
		ChunksTotal:       1,
		ChunksProcessed:   1,
		TotalChars:        len(text),
		TotalCharsStored:  len(text),
		CollectionRecords: 4,
	}, nil
}

type fakeAnswerer struct {
	subject    string
	body       string
	collection string
	err        error
	history    []model.ConversationMessage
	limit      int
}

func (f *fakeAnswerer) Answer(_ context.Context, subject string, body string, sessionID string, collectionName string) (*service.AnswerResult, error) {
	f.subject, f.body, f.collection = subject, body, collectionName
	if f.err != nil {
		return nil, f.err
	}
	return &service.AnswerResult{
		SessionID: sessionID,
		Answer:    model.Answer{Solution: "restart dialer", Disposition: "Dialer Issue", SubDisposition: "Rule Based Dialing Issue", Priority: "Semi Critical"},
	}, nil
}

func (f *fakeAnswerer) Chat(_ context.Context, query string, sessionID string) (*service.AnswerResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, appErr.ErrInvalid
	}
	return &service.AnswerResult{SessionID: sessionID, Answer: model.Answer{Solution: "echo " + query}}, nil
}

func (f *fakeAnswerer) History(_ context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	f.limit = limit
	return f.history, nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, ing *fakeIngester, ans *fakeAnswerer, archive filestore.Store) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	handler.RegisterRoutes(api, handler.RouterDeps{
		RAG: handler.NewRAGHandler(ing, ans, archive, "tickets", 1024),
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return resp, env
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postForm(t *testing.T, router http.Handler, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return resp, env
}

func TestIngestFileStr(t *testing.T) {
	ing := &fakeIngester{}
	router := setupRouter(t, ing, &fakeAnswerer{}, nil)

	body, ct := multipartBody(t, map[string]string{"file_str": "Hello world.", "collection_name": "t1"}, "", nil)
	resp, env := postForm(t, router, body, ct)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, env.Code)
	require.Equal(t, "Hello world.", ing.text)
	require.Equal(t, "t1", ing.collection)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, float64(1), data["chunks_processed"])
	require.Equal(t, float64(12), data["total_tokens"])
	require.Equal(t, float64(4), data["collection_records"])
}

func TestIngestUploadedFileIsArchived(t *testing.T) {
	ctx := context.Background()
	ing := &fakeIngester{}
	archive, err := filestore.New(ctx, config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	router := setupRouter(t, ing, &fakeAnswerer{}, archive)

	body, ct := multipartBody(t, nil, "rows.csv", []byte("a,b\nc,d\n"))
	resp, env := postForm(t, router, body, ct)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "a b\nc d", ing.text)
	require.Equal(t, "tickets", ing.collection)

	var data struct {
		ArchiveKey string `json:"archive_key"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.ArchiveKey)
	rc, err := archive.Open(ctx, data.ArchiveKey)
	require.NoError(t, err)
	_ = rc.Close()
}

func TestIngestRejections(t *testing.T) {
	router := setupRouter(t, &fakeIngester{}, &fakeAnswerer{}, nil)

	body, ct := multipartBody(t, map[string]string{"collection_name": "t1"}, "", nil)
	resp, env := postForm(t, router, body, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, env.Code)

	body, ct = multipartBody(t, nil, "scan.png", []byte("png"))
	resp, env = postForm(t, router, body, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalidFile, env.Code)

	body, ct = multipartBody(t, nil, "big.txt", bytes.Repeat([]byte("x"), 2048))
	resp, env = postForm(t, router, body, ct)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	require.Equal(t, errcode.ErrInvalidFile, env.Code)
}

func TestIngestBlankTextMapsToBadRequest(t *testing.T) {
	ing := &fakeIngester{err: fmt.Errorf("%w: document text is empty", appErr.ErrInvalid)}
	router := setupRouter(t, ing, &fakeAnswerer{}, nil)

	body, ct := multipartBody(t, nil, "empty.txt", []byte("   "))
	resp, env := postForm(t, router, body, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, errcode.ErrInvalid, env.Code)
}

func TestQueryReturnsAnswerAndCard(t *testing.T) {
	ans := &fakeAnswerer{}
	router := setupRouter(t, &fakeIngester{}, ans, nil)

	resp, env := doJSON(t, router, http.MethodPost, "/api/v1/query", map[string]string{
		"subject": "Dialer down", "mailBody": "Calls drop", "session_id": "s1", "collection_name": "t1",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "Dialer down", ans.subject)
	require.Equal(t, "Calls drop", ans.body)
	require.Equal(t, "t1", ans.collection)

	var data struct {
		SessionID string                 `json:"session_id"`
		Answer    map[string]string      `json:"answer"`
		Card      map[string]interface{} `json:"card"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "s1", data.SessionID)
	require.Equal(t, "restart dialer", data.Answer["solution"])
	require.Equal(t, "Rule Based Dialing Issue", data.Answer["Sub Disposition"])
	require.Equal(t, "adaptiveCard", data.Card["type"])
	cardBody := data.Card["body"].([]interface{})
	require.Len(t, cardBody, 3)
	require.Equal(t, "restart dialer", cardBody[0].(map[string]interface{})["text"])
	require.Equal(t, "Was I helpful?", cardBody[1].(map[string]interface{})["text"])
	require.Empty(t, data.Card["actions"])
}

func TestQueryUpstreamFailure(t *testing.T) {
	ans := &fakeAnswerer{err: fmt.Errorf("%w: connection refused", appErr.ErrUpstreamUnavailable)}
	router := setupRouter(t, &fakeIngester{}, ans, nil)

	resp, env := doJSON(t, router, http.MethodPost, "/api/v1/query", map[string]string{"subject": "x", "session_id": "s1"})
	require.Equal(t, http.StatusBadGateway, resp.Code)
	require.Equal(t, errcode.ErrAIUnavailable, env.Code)
}

func TestChatAndHistory(t *testing.T) {
	ans := &fakeAnswerer{history: []model.ConversationMessage{{ID: 1, SessionID: "s1", Role: model.RoleHuman, Content: "hi", Ctime: 1700000000000}}}
	router := setupRouter(t, &fakeIngester{}, ans, nil)

	resp, env := doJSON(t, router, http.MethodPost, "/api/v1/chat", map[string]string{"user_query": "hi", "session_id": "s1"})
	require.Equal(t, http.StatusOK, resp.Code)
	var chat map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &chat))
	require.Equal(t, "echo hi", chat["solution"])

	resp, _ = doJSON(t, router, http.MethodPost, "/api/v1/chat", map[string]string{"user_query": " ", "session_id": "s1"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp, env = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/messages?limit=7", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 7, ans.limit)
	var hist struct {
		Messages []model.ConversationMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	require.Equal(t, ans.history, hist.Messages)

	resp, _ = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/messages?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, &fakeIngester{}, &fakeAnswerer{}, nil)
	resp, env := doJSON(t, router, http.MethodGet, "/api/v1/healthz", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Zero(t, env.Code)
}
