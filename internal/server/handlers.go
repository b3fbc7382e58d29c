package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/sammcj/pdf-ocr-compare/internal/extract"
	"github.com/sammcj/pdf-ocr-compare/internal/storage"
	"github.com/sammcj/pdf-ocr-compare/internal/telemetry"
	"github.com/sirupsen/logrus"
)

type uploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type keyRequest struct {
	Key string `json:"key"`
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) uploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.Filename == "" {
		c.JSON(http.StatusBadRequest, errorBody("filename is required"))
		return
	}
	if !extract.IsSupportedMimeType(req.ContentType) {
		c.JSON(http.StatusUnsupportedMediaType, errorBody(fmt.Sprintf("%s: %q", extract.ErrUnsupportedMimeType, req.ContentType)))
		return
	}

	key := storage.NewUploadKey(req.Filename)
	presigned, err := s.deps.Store.PresignUpload(c.Request.Context(), key, req.ContentType)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to presign upload")
		c.JSON(http.StatusInternalServerError, errorBody("failed to create upload URL"))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"key":        key,
		"upload_url": telemetry.SanitiseURL(presigned.URL),
		"expires_at": presigned.ExpiresAt,
	}).Debug("Issued upload URL")

	c.JSON(http.StatusOK, presigned)
}

// upload is the target of URLs signed by the memory store
func (s *Server) upload(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !storage.ValidKey(key) || !strings.HasPrefix(key, storage.UploadPrefix+"/") {
		c.JSON(http.StatusBadRequest, errorBody("invalid upload key"))
		return
	}

	if err := s.deps.Uploads.VerifyUpload(key, c.Query("token")); err != nil {
		c.JSON(http.StatusForbidden, errorBody(err.Error()))
		return
	}

	data, ok := s.readLimited(c, c.Request.Body)
	if !ok {
		return
	}
	mimeType, ok := s.sniff(c, data)
	if !ok {
		return
	}

	if err := s.deps.Uploads.Put(c.Request.Context(), key, data, mimeType); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store upload")
		c.JSON(http.StatusInternalServerError, errorBody("failed to store upload"))
		return
	}

	telemetry.RecordUpload(c.Request.Context(), mimeType, int64(len(data)))
	c.Status(http.StatusOK)
}

func (s *Server) extractOne(c *gin.Context) {
	service := c.Param("service")
	if service != extract.ServiceVision && service != extract.ServiceOCR {
		c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("unknown extraction service %q", service)))
		return
	}

	doc, mimeType, ok := s.documentFromKey(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, s.deps.Orchestrator.Run(c.Request.Context(), service, doc, mimeType))
}

func (s *Server) compareAll(c *gin.Context) {
	var (
		doc      []byte
		mimeType string
		ok       bool
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		doc, mimeType, ok = s.documentFromForm(c)
	} else {
		doc, mimeType, ok = s.documentFromKey(c)
	}
	if !ok {
		return
	}

	c.JSON(http.StatusOK, s.deps.Orchestrator.Compare(c.Request.Context(), doc, mimeType))
}

func (s *Server) preview(c *gin.Context) {
	if s.deps.Previewer == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("stitching preview is not available"))
		return
	}

	doc, mimeType, ok := s.documentFromForm(c)
	if !ok {
		return
	}
	if mimeType != extract.MimeTypePDF {
		c.JSON(http.StatusUnsupportedMediaType, errorBody("preview requires a PDF"))
		return
	}

	stitched, err := s.deps.Previewer.Preview(c.Request.Context(), doc)
	if err != nil {
		var renderErr *extract.RenderError
		status := http.StatusInternalServerError
		if errors.As(err, &renderErr) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, errorBody(err.Error()))
		return
	}

	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, gin.H{"pdf": stitched.Base64, "pages": stitched.PageCount})
		return
	}
	c.Header("Content-Disposition", `inline; filename="stitched.pdf"`)
	c.Data(http.StatusOK, extract.MimeTypePDF, stitched.Data)
}

// documentFromKey loads the object named in a {"key": ...} body. It writes the
// error response itself and reports false when the handler should stop.
func (s *Server) documentFromKey(c *gin.Context) ([]byte, string, bool) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		c.JSON(http.StatusBadRequest, errorBody("key is required"))
		return nil, "", false
	}
	if !storage.ValidKey(req.Key) {
		c.JSON(http.StatusBadRequest, errorBody("invalid key"))
		return nil, "", false
	}

	doc, err := s.deps.Store.Get(c.Request.Context(), req.Key)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("document %q not found", req.Key)))
		return nil, "", false
	}
	if errors.Is(err, storage.ErrTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("document exceeds %d bytes", s.opts.MaxUploadBytes)))
		return nil, "", false
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", req.Key).Error("Failed to load document")
		c.JSON(http.StatusBadGateway, errorBody("failed to load document"))
		return nil, "", false
	}

	if int64(len(doc)) > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("document exceeds %d bytes", s.opts.MaxUploadBytes)))
		return nil, "", false
	}

	mimeType, ok := s.sniff(c, doc)
	return doc, mimeType, ok
}

// documentFromForm reads the multipart "file" field
func (s *Server) documentFromForm(c *gin.Context) ([]byte, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("document exceeds %d bytes", s.opts.MaxUploadBytes)))
			return nil, "", false
		}
		c.JSON(http.StatusBadRequest, errorBody("file is required"))
		return nil, "", false
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("failed to read uploaded file"))
		return nil, "", false
	}
	defer file.Close()

	data, ok := s.readLimited(c, file)
	if !ok {
		return nil, "", false
	}
	mimeType, ok := s.sniff(c, data)
	if !ok {
		return nil, "", false
	}

	telemetry.RecordUpload(c.Request.Context(), mimeType, int64(len(data)))
	return data, mimeType, true
}

func (s *Server) readLimited(c *gin.Context, r io.Reader) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("failed to read request body"))
		return nil, false
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Sprintf("document exceeds %d bytes", s.opts.MaxUploadBytes)))
		return nil, false
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, errorBody("document is empty"))
		return nil, false
	}
	return data, true
}

// sniff detects the document type from its content, ignoring any declared type
func (s *Server) sniff(c *gin.Context, data []byte) (string, bool) {
	if mimeType, ok := detectMimeType(data); ok {
		return mimeType, true
	}
	c.JSON(http.StatusUnsupportedMediaType, errorBody(fmt.Sprintf("%s: %s", extract.ErrUnsupportedMimeType, mimetype.Detect(data).String())))
	return "", false
}

func detectMimeType(data []byte) (string, bool) {
	detected := mimetype.Detect(data)
	for _, supported := range []string{extract.MimeTypePDF, extract.MimeTypePNG, extract.MimeTypeJPEG} {
		if detected.Is(supported) {
			return supported, true
		}
	}
	return "", false
}
