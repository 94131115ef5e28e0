// Package handler provides HTTP handlers for the markdok REST API.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/docs"
	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/markdown"
)

// Namespace is the document service the handlers expose.
type Namespace interface {
	List(ctx context.Context, dir string) ([]docs.Item, error)
	Read(ctx context.Context, path string) (string, error)
	View(ctx context.Context, path string) (*markdown.ParseResult, error)
	Save(ctx context.Context, path, content string) error
	CreateFile(ctx context.Context, path string) error
	CreateDirectory(ctx context.Context, path string) error
	Move(ctx context.Context, source, destDir string) error
	Delete(ctx context.Context, path string) error
}

// Register mounts the document API on r.
func Register(r gin.IRouter, ns Namespace, ws *WSHandler) {
	files := NewFileHandler(ns)
	tree := NewTreeHandler(ns)

	api := r.Group("/api")
	{
		api.GET("/list", tree.List)
		api.GET("/view", files.View)
		api.GET("/raw", files.Raw)
		api.POST("/save", files.Save)
		api.POST("/create-file", tree.CreateFile)
		api.POST("/create-directory", tree.CreateDirectory)
		api.POST("/move", tree.Move)
		api.DELETE("/delete", tree.Delete)
		if ws != nil {
			api.GET("/ws", ws.HandleWS)
		}
	}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch docs.KindOf(err) {
	case docs.KindNotFound:
		return http.StatusNotFound
	case docs.KindAlreadyExists:
		return http.StatusConflict
	case docs.KindInvalidOperation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromGin(c).Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": docs.Message(err)})
}

func respondMessage(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
