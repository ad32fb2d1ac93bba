package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
	"github.com/dmitrijs2005/crawlupload/internal/server/services"
)

// formFilesField is the multipart field carrying the uploaded files.
const formFilesField = "uploads"

// maxFormMemory bounds how much of a form is held in memory; larger parts
// spill to temporary files.
const maxFormMemory = 32 << 20

func (s *Server) uploadStream(c *gin.Context) {
	org, user := caller(c)

	filename := c.Query("filename")
	if filename == "" {
		abortWithError(c, fmt.Errorf("filename is required: %w", common.ErrorInvalidInput))
		return
	}

	res, err := s.uploads.UploadStream(c.Request.Context(), c.Request.Body, filename,
		c.Query("name"), c.Query("notes"), org, user, c.Query("replaceId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) uploadFormData(c *gin.Context) {
	org, user := caller(c)

	form, err := c.Request.MultipartReader()
	if err != nil {
		abortWithError(c, fmt.Errorf("multipart body: %w", common.ErrorInvalidInput))
		return
	}
	parsed, err := form.ReadForm(maxFormMemory)
	if err != nil {
		abortWithError(c, fmt.Errorf("read form: %w", common.ErrorInvalidInput))
		return
	}
	defer func() { _ = parsed.RemoveAll() }()

	headers := parsed.File[formFilesField]
	parts := make([]services.FilePart, 0, len(headers))
	for _, fh := range headers {
		parts = append(parts, services.FilePart{
			Filename: fh.Filename,
			Open:     openPart(fh),
		})
	}

	res, err := s.uploads.UploadFormData(c.Request.Context(), parts,
		c.Query("name"), c.Query("notes"), org, user)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

func (s *Server) listUploads(c *gin.Context) {
	org, _ := caller(c)

	page, err := intQuery(c, "page")
	if err != nil {
		abortWithError(c, err)
		return
	}
	pageSize, err := intQuery(c, "pageSize")
	if err != nil {
		abortWithError(c, err)
		return
	}

	res, err := s.uploads.ListUploads(c.Request.Context(), org, services.ListOptions{
		Page:     page,
		PageSize: pageSize,
		UserID:   c.Query("userid"),
		Name:     c.Query("name"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getUpload(c *gin.Context) {
	org, _ := caller(c)

	res, err := s.uploads.GetUpload(c.Request.Context(), c.Param("id"), org)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getAnyUpload(c *gin.Context) {
	user := c.MustGet(userKey).(models.User)

	res, err := s.uploads.GetAnyUpload(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) updateUpload(c *gin.Context) {
	org, _ := caller(c)

	var upd services.UpdateUpload
	if err := c.ShouldBindJSON(&upd); err != nil {
		abortWithError(c, fmt.Errorf("update body: %w", common.ErrorInvalidInput))
		return
	}

	res, err := s.uploads.UpdateUpload(c.Request.Context(), c.Param("id"), org, upd)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type deleteRequest struct {
	CrawlIDs []string `json:"crawl_ids" binding:"required"`
}

func (s *Server) deleteUploads(c *gin.Context) {
	org, _ := caller(c)

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("delete body: %w", common.ErrorInvalidInput))
		return
	}

	res, err := s.uploads.DeleteUploads(c.Request.Context(), req.CrawlIDs, org)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", key, common.ErrorInvalidInput)
	}
	return n, nil
}
