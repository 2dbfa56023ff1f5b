package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/docparse"
	"github.com/xxxsen/ragdesk/internal/filestore"
	"github.com/xxxsen/ragdesk/internal/model"
	"github.com/xxxsen/ragdesk/internal/pkg/errcode"
	"github.com/xxxsen/ragdesk/internal/pkg/response"
	"github.com/xxxsen/ragdesk/internal/service"
)

const defaultHistoryLimit = 50

type Ingester interface {
	Ingest(ctx context.Context, text string, collectionName string) (*model.IngestStats, error)
}

type Answerer interface {
	Answer(ctx context.Context, subject string, body string, sessionID string, collectionName string) (*service.AnswerResult, error)
	Chat(ctx context.Context, query string, sessionID string) (*service.AnswerResult, error)
	History(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error)
}

type RAGHandler struct {
	ingest            Ingester
	answers           Answerer
	archive           filestore.Store
	defaultCollection string
	maxUploadBytes    int64
}

// NewRAGHandler builds the ingestion and question endpoints. archive may be
// nil, in which case uploads are not kept.
func NewRAGHandler(ingest Ingester, answers Answerer, archive filestore.Store, defaultCollection string, maxUploadBytes int64) *RAGHandler {
	return &RAGHandler{
		ingest:            ingest,
		answers:           answers,
		archive:           archive,
		defaultCollection: defaultCollection,
		maxUploadBytes:    maxUploadBytes,
	}
}

type ingestResponse struct {
	Detail            string `json:"detail"`
	Collection        string `json:"collection_name"`
	ChunksTotal       int    `json:"chunks_total"`
	ChunksProcessed   int    `json:"chunks_processed"`
	ChunksSkipped     int    `json:"chunks_skipped"`
	TotalTokens       int    `json:"total_tokens"`
	TotalCharsStored  int    `json:"total_chars_stored"`
	CollectionRecords int    `json:"collection_records"`
	ArchiveKey        string `json:"archive_key,omitempty"`
}

func (h *RAGHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()
	collection := strings.TrimSpace(c.PostForm("collection_name"))
	if collection == "" {
		collection = h.defaultCollection
	}

	var text, archiveKey string
	if file, err := c.FormFile("file"); err == nil {
		if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
			response.Error(c, http.StatusRequestEntityTooLarge, errcode.ErrInvalidFile, "file exceeds "+describeUploadLimit(h.maxUploadBytes))
			return
		}
		if !docparse.Supported(file.Filename) {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "unsupported file type")
			return
		}
		opened, err := file.Open()
		if err != nil {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "failed to open file")
			return
		}
		data, err := io.ReadAll(opened)
		_ = opened.Close()
		if err != nil {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "failed to read file")
			return
		}
		text, err = docparse.Extract(file.Filename, data)
		if err != nil {
			handleError(c, err)
			return
		}
		archiveKey = h.archiveUpload(ctx, collection, file.Filename, data)
	} else if fileStr := c.PostForm("file_str"); strings.TrimSpace(fileStr) != "" {
		text = fileStr
	} else {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "file or file_str is required")
		return
	}

	stats, err := h.ingest.Ingest(ctx, text, collection)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, ingestResponse{
		Detail:            fmt.Sprintf("Text processed successfully for collection '%s'", stats.Collection),
		Collection:        stats.Collection,
		ChunksTotal:       stats.ChunksTotal,
		ChunksProcessed:   stats.ChunksProcessed,
		ChunksSkipped:     stats.ChunksSkipped,
		TotalTokens:       stats.TotalChars,
		TotalCharsStored:  stats.TotalCharsStored,
		CollectionRecords: stats.CollectionRecords,
		ArchiveKey:        archiveKey,
	})
}

// archiveUpload keeps the original bytes when an archive is configured.
// Failures are logged and never block ingestion.
func (h *RAGHandler) archiveUpload(ctx context.Context, collection string, filename string, data []byte) string {
	if h.archive == nil {
		return ""
	}
	key := filestore.BuildKey(collection, filename)
	if err := h.archive.Save(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		logutil.GetLogger(ctx).Error("archive upload failed",
			zap.String("collection", collection),
			zap.String("file", filename),
			zap.Error(err),
		)
		return ""
	}
	return key
}

type queryRequest struct {
	Subject    string `json:"subject"`
	MailBody   string `json:"mailBody"`
	SessionID  string `json:"session_id"`
	Collection string `json:"collection_name"`
}

type queryResponse struct {
	SessionID string       `json:"session_id"`
	Answer    model.Answer `json:"answer"`
	Card      AdaptiveCard `json:"card"`
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.answers.Answer(c.Request.Context(), req.Subject, req.MailBody, req.SessionID, req.Collection)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, queryResponse{
		SessionID: res.SessionID,
		Answer:    res.Answer,
		Card:      newFeedbackCard(res.Answer.Solution),
	})
}

type chatRequest struct {
	Query     string `json:"user_query"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Solution  string `json:"solution"`
}

func (h *RAGHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
		return
	}
	res, err := h.answers.Chat(c.Request.Context(), req.Query, req.SessionID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, chatResponse{SessionID: res.SessionID, Solution: res.Answer.Solution})
}

type historyResponse struct {
	SessionID string                      `json:"session_id"`
	Messages  []model.ConversationMessage `json:"messages"`
}

func (h *RAGHandler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid limit")
			return
		}
		limit = n
	}
	sessionID := c.Param("id")
	msgs, err := h.answers.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, historyResponse{SessionID: sessionID, Messages: msgs})
}

func (h *RAGHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
