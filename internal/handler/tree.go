package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CageChen/markdok/internal/docs"
)

// MoveRequest is the body of POST /api/move. Destination is the directory
// the source is moved into.
type MoveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// TreeHandler handles the structural operations of the namespace
type TreeHandler struct {
	ns Namespace
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(ns Namespace) *TreeHandler {
	return &TreeHandler{ns: ns}
}

// List returns the direct children of a directory, "/" by default
func (h *TreeHandler) List(c *gin.Context) {
	items, err := h.ns.List(c.Request.Context(), c.DefaultQuery("path", "/"))
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []docs.Item{}
	}
	c.JSON(http.StatusOK, items)
}

// CreateFile creates a new markdown file
func (h *TreeHandler) CreateFile(c *gin.Context) {
	if err := h.ns.CreateFile(c.Request.Context(), c.Query("path")); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "File created successfully!")
}

// CreateDirectory creates a new directory
func (h *TreeHandler) CreateDirectory(c *gin.Context) {
	if err := h.ns.CreateDirectory(c.Request.Context(), c.Query("path")); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "Directory created successfully!")
}

// Move relocates a file or directory into another directory
func (h *TreeHandler) Move(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.ns.Move(c.Request.Context(), req.Source, req.Destination); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "Moved successfully!")
}

// Delete removes a file, or a directory with everything below it
func (h *TreeHandler) Delete(c *gin.Context) {
	if err := h.ns.Delete(c.Request.Context(), c.Query("path")); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "Deleted successfully!")
}
