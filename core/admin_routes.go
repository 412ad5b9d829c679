package core

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerAdminRoutes wires the admin-only API. g already carries RequireAuth and AdminOnly.
func registerAdminRoutes(g *gin.RouterGroup, d Deps) {
	g.GET("/users", func(c *gin.Context) {
		page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
		if err != nil {
			writeError(c, err)
			return
		}
		items, total, err := d.Users.List(c.Request.Context(), page, perPage)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":       items,
			"page":        page,
			"per_page":    perPage,
			"total":       total,
			"total_pages": calcTotalPages(total, perPage),
		})
	})

	g.POST("/imports", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportDocumentBytes+1))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(c, validationError("request body too large"))
				return
			}
			writeError(c, &AppError{Kind: KindValidation, Message: "unreadable request body", Err: err})
			return
		}
		uid, _ := currentUserID(c)
		job, err := d.Imports.Submit(c.Request.Context(), uid, body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": job.Status})
	})

	g.GET("/imports/:id", func(c *gin.Context) {
		job, err := d.Imports.Get(c.Request.Context(), c.Param("id"))
		respond(c, http.StatusOK, job, err)
	})

	metrics := g.Group("/metrics")
	metrics.GET("/queues", func(c *gin.Context) {
		q, err := d.Queue.Queue(c.Request.Context())
		respond(c, http.StatusOK, q, err)
	})
	metrics.GET("/workers", func(c *gin.Context) {
		workers, err := d.Queue.Workers(c.Request.Context())
		respond(c, http.StatusOK, gin.H{"workers": workers}, err)
	})
	metrics.GET("/workers/:id", func(c *gin.Context) {
		hb, err := d.Queue.WorkerByID(c.Request.Context(), c.Param("id"))
		respond(c, http.StatusOK, hb, err)
	})
	metrics.GET("/overview", func(c *gin.Context) {
		ov, err := d.Queue.Overview(c.Request.Context())
		respond(c, http.StatusOK, ov, err)
	})

	g.GET("/system/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, CollectSystemStatus(c.Request.Context(), d.Checks, d.Queue, d.StartedAt))
	})
}
