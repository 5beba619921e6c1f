package handler

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omnirag/internal/app"
	"omnirag/internal/config"
	"omnirag/internal/model"
	"omnirag/internal/platform/rabbitmq"
	"omnirag/internal/repository"
	"omnirag/internal/transport/http/response"
)

const maxUploadSize = 20 << 20 // 20 MB

var allowedExtensions = map[string]struct{}{
	".pdf": {},
	".txt": {},
	".md":  {},
}

type DocumentHandler struct {
	documents *repository.DocumentRepository
	publisher *rabbitmq.IngestPublisher
	ingest    *app.IngestService
	ragCfg    config.RAGConfig
}

func NewDocumentHandler(documents *repository.DocumentRepository, publisher *rabbitmq.IngestPublisher, ingest *app.IngestService, ragCfg config.RAGConfig) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		publisher: publisher,
		ingest:    ingest,
		ragCfg:    ragCfg,
	}
}

// Upload spools the file to disk, records a pending document and queues the
// ingest job. The response returns immediately with the document id; clients
// poll the status endpoint for progress.
func (h *DocumentHandler) Upload(c *gin.Context) {
	botID := c.Param("bot_id")

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file exceeds the 20 MB limit")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			fmt.Sprintf("unsupported file type %s, expected pdf, txt or md", ext))
		return
	}

	strategy := c.PostForm("chunking_strategy")
	chunkSize := formInt(c, "chunk_size", 0)
	chunkOverlap := formInt(c, "chunk_overlap", -1)

	spoolPath := filepath.Join(h.ragCfg.UploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, spoolPath); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store upload failed")
		return
	}

	doc := &model.Document{
		BotID:    botID,
		Filename: file.Filename,
		Status:   model.DocumentStatusPending,
	}
	if err := h.documents.Create(doc); err != nil {
		_ = os.Remove(spoolPath)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "record document failed")
		return
	}

	job := rabbitmq.IngestJob{
		DocumentID:       doc.ID,
		BotID:            botID,
		Filename:         file.Filename,
		FilePath:         spoolPath,
		ChunkingStrategy: strategy,
		ChunkSize:        chunkSize,
		ChunkOverlap:     chunkOverlap,
	}
	if err := h.publisher.Publish(c.Request.Context(), job); err != nil {
		_ = os.Remove(spoolPath)
		if markErr := h.documents.MarkFailed(doc.ID, "queue ingest job failed"); markErr != nil {
			log.Printf("mark document %d failed status error: %v", doc.ID, markErr)
		}
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, "queue ingest job failed")
		return
	}

	response.Accepted(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	botID := c.Param("bot_id")

	docs, err := h.documents.ListByBotID(botID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Status(c *gin.Context) {
	doc, ok := h.lookupDocument(c)
	if !ok {
		return
	}
	response.OK(c, doc)
}

// Delete removes the document's vectors and its tracking row.
func (h *DocumentHandler) Delete(c *gin.Context) {
	botID := c.Param("bot_id")
	doc, ok := h.lookupDocument(c)
	if !ok {
		return
	}

	if err := h.ingest.RemoveDocument(c.Request.Context(), botID, doc.Filename); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document vectors failed")
		return
	}
	if err := h.documents.DeleteByIDAndBotID(doc.ID, botID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		return
	}

	response.OK(c, gin.H{"deleted_document_id": doc.ID})
}

func (h *DocumentHandler) lookupDocument(c *gin.Context) (*model.Document, bool) {
	id64, err := strconv.ParseUint(c.Param("doc_id"), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return nil, false
	}

	doc, err := h.documents.GetByID(uint(id64))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load document failed")
		return nil, false
	}
	if doc == nil || doc.BotID != c.Param("bot_id") {
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

func formInt(c *gin.Context, key string, fallback int) int {
	raw := c.PostForm(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
