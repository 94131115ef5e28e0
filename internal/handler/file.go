package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/markdok/internal/docpath"
	"github.com/CageChen/markdok/internal/markdown"
)

// FileResponse represents the response for a rendered file
type FileResponse struct {
	Path  string             `json:"path"`
	Title string             `json:"title"`
	HTML  string             `json:"html"`
	TOC   []markdown.TOCItem `json:"toc"`
}

// SaveRequest is the body of POST /api/save.
type SaveRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileHandler serves file content
type FileHandler struct {
	ns Namespace
}

// NewFileHandler creates a new file handler
func NewFileHandler(ns Namespace) *FileHandler {
	return &FileHandler{ns: ns}
}

// View returns the rendered HTML for a markdown file
func (h *FileHandler) View(c *gin.Context) {
	path := docpath.Normalize(c.Query("path"))

	result, err := h.ns.View(c.Request.Context(), path)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, FileResponse{
		Path:  path,
		Title: result.Title,
		HTML:  result.HTML,
		TOC:   result.TOC,
	})
}

// Raw returns the raw markdown content
func (h *FileHandler) Raw(c *gin.Context) {
	content, err := h.ns.Read(c.Request.Context(), c.Query("path"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(content))
}

// Save overwrites the content of an existing file
func (h *FileHandler) Save(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.ns.Save(c.Request.Context(), req.Path, req.Content); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "File saved successfully!")
}
