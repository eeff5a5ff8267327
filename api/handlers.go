package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"taskboard-api/domain"
	"taskboard-api/storage"
)

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, events Broadcaster, logger *log.Logger) {
	e.GET("/", root)
	e.GET("/healthz", healthz)
	e.GET("/events", streamEvents(events))
	e.POST("/tasks", createTask(store, events))
	e.GET("/tasks", listTasks(store, logger))
	e.PATCH("/tasks/:id", patchTask(store))
	e.PUT("/tasks/reorder", reorderTasks(store, events, logger))
	e.DELETE("/tasks/:id", deleteTask(store, events))
	e.PUT("/users", upsertUser(store))
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Message: msg})
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, requestBodyMaxSize))
	return dec.Decode(v)
}

func root(c echo.Context) error {
	return c.String(http.StatusOK, "Task Management API is running!")
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	UserID      string `json:"userId"`
}

func createTask(store Storage, events Broadcaster) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return errJSON(c, http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" || req.UserID == "" {
			return errJSON(c, http.StatusBadRequest, "title and userId are required")
		}
		category := req.Category
		if category == "" {
			category = domain.DefaultCategory
		}

		max, found, err := store.MaxOrder(ctx, category)
		if err != nil {
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to create task: "+err.Error())
		}
		task := domain.Task{
			ID:          primitive.NewObjectID(),
			Title:       req.Title,
			Description: req.Description,
			Category:    category,
			Owner:       req.UserID,
			CreatedAt:   time.Now(),
			Order:       domain.NextOrder(max, found),
		}
		if err := store.InsertTask(ctx, task); err != nil {
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to create task: "+err.Error())
		}

		events.Publish(domain.TaskCreated, domain.TaskCreatedPayload{Success: true, Task: task})
		return c.JSON(http.StatusCreated, successResponse{Success: true})
	}
}

func listTasks(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newTaskRequestMetrics(c.Request().Context(), logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		owner := c.QueryParam("email")
		if owner == "" {
			metrics.SetErrorStage("missing_owner")
			err = errJSON(c, http.StatusBadRequest, "user ID is required")
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.TasksByOwner(ctx, owner)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = errJSON(c, http.StatusInternalServerError, "failed to retrieve tasks: "+fetchErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type patchTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func patchTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req patchTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return errJSON(c, http.StatusBadRequest, "invalid body")
		}
		fields := map[string]string{}
		if req.Title != nil {
			fields["title"] = *req.Title
		}
		if req.Description != nil {
			fields["description"] = *req.Description
		}
		if len(fields) == 0 {
			return errJSON(c, http.StatusBadRequest, "no valid fields to update")
		}

		if _, err := store.PatchTask(ctx, c.Param("id"), fields); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errJSON(c, http.StatusNotFound, "task not found or no changes made")
			}
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to update task: "+err.Error())
		}
		return c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

type reorderRequest struct {
	ReorderedTasks []json.RawMessage `json:"reorderedTasks"`
}

func reorderTasks(store Storage, events Broadcaster, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return errJSON(c, http.StatusBadRequest, "invalid task order data received")
		}
		changes, err := domain.SanitizeReorder(req.ReorderedTasks)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyBatch) {
				return errJSON(c, http.StatusBadRequest, "invalid task order data received")
			}
			return errJSON(c, http.StatusBadRequest, "no valid tasks to update")
		}

		applied, err := store.ApplyReorder(ctx, changes)
		if err != nil {
			// The batch is not transactional; some records may already be
			// applied. Callers re-fetch to reconcile.
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to reorder tasks: "+err.Error())
		}
		logger.WithFields(log.Fields{"submitted": len(req.ReorderedTasks), "valid": len(changes), "applied": applied}).Debug("reorder applied")

		events.Publish(domain.TasksReordered, domain.TasksReorderedPayload{Success: true, ReorderedTasks: req.ReorderedTasks})
		return c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

func deleteTask(store Storage, events Broadcaster) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		if _, err := store.DeleteTask(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errJSON(c, http.StatusNotFound, "task not found")
			}
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to delete task: "+err.Error())
		}

		events.Publish(domain.TaskDeleted, domain.TaskDeletedPayload{Success: true, TaskID: id})
		return c.JSON(http.StatusOK, successResponse{Success: true})
	}
}

func upsertUser(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		var u domain.User
		if err := decodeBody(c, &u); err != nil {
			return errJSON(c, http.StatusBadRequest, "invalid body")
		}

		res, err := store.UpsertUser(ctx, u)
		if err != nil {
			c.Logger().Error(err)
			return errJSON(c, http.StatusInternalServerError, "failed to upsert user: "+err.Error())
		}
		return c.JSON(http.StatusOK, res)
	}
}
