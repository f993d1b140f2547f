package tasks

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const (
	flashCookie    = "flash"
	flashEmptyTask = "empty_task"
	maxFormBytes   = 1 << 20
)

var flashMessages = map[string]string{
	flashEmptyTask: "Task description cannot be empty.",
}

type errResponse struct {
	Error string `json:"error"`
}

type indexView struct {
	Tasks []Task
	Flash string
}

// RegisterRoutes mounts the task list and its mutations. The mutating
// middlewares wrap only the routes that change state.
func RegisterRoutes(r chi.Router, store Store, logger *slog.Logger, mutating ...func(http.Handler) http.Handler) {
	r.Get("/", index(store, logger))
	r.Get("/tasks", listTasks(store, logger))

	r.Group(func(r chi.Router) {
		r.Use(mutating...)
		r.Post("/add", addTask(store, logger))
		r.Get("/done/{id}", toggleTask(store, logger))
		r.Get("/delete/{id}", deleteTask(store, logger))
	})
}

func index(store Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := store.Session()
		defer closeSession(sess, logger, r)

		tasks, err := sess.List(r.Context())
		if err != nil {
			storageFailure(w, r, logger, "list", err)
			return
		}

		view := indexView{Tasks: tasks, Flash: takeFlash(w, r)}
		var buf bytes.Buffer
		if err := indexTmpl.Execute(&buf, view); err != nil {
			logger.Error("render_failed",
				slog.String("req_id", chimw.GetReqID(r.Context())),
				slog.String("error", err.Error()),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

func listTasks(store Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		sess := store.Session()
		defer closeSession(sess, logger, r)

		tasks, err := sess.List(r.Context())
		if err != nil {
			logStorageError(r, logger, "list", err)
			writeJSON(w, http.StatusInternalServerError, errResponse{Error: "storage_unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func addTask(store Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		description := strings.TrimSpace(r.PostFormValue("task"))
		if description == "" {
			logger.Debug("task_rejected",
				slog.String("req_id", chimw.GetReqID(r.Context())),
				slog.String("reason", "empty description"),
			)
			setFlash(w, flashEmptyTask)
			redirectHome(w, r)
			return
		}

		sess := store.Session()
		defer closeSession(sess, logger, r)

		if _, err := sess.Create(r.Context(), description); err != nil {
			storageFailure(w, r, logger, "create", err)
			return
		}
		redirectHome(w, r)
	}
}

func toggleTask(store Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			http.NotFound(w, r)
			return
		}

		sess := store.Session()
		defer closeSession(sess, logger, r)

		err := sess.ToggleDone(r.Context(), id)
		switch {
		case errors.Is(err, ErrNotFound):
			logger.Info("task_not_found",
				slog.String("req_id", chimw.GetReqID(r.Context())),
				slog.Int64("task_id", id),
			)
			http.NotFound(w, r)
			return
		case err != nil:
			storageFailure(w, r, logger, "toggle", err)
			return
		}
		redirectHome(w, r)
	}
}

func deleteTask(store Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			http.NotFound(w, r)
			return
		}

		sess := store.Session()
		defer closeSession(sess, logger, r)

		if err := sess.Delete(r.Context(), id); err != nil {
			storageFailure(w, r, logger, "delete", err)
			return
		}
		redirectHome(w, r)
	}
}

// taskID reads a positive integer id from the {id} path segment.
func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

func setFlash(w http.ResponseWriter, code string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    code,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns the pending flash message, if any, and expires it.
func takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return flashMessages[c.Value]
}

func closeSession(sess Session, logger *slog.Logger, r *http.Request) {
	if err := sess.Close(); err != nil {
		logger.Warn("session_close_failed",
			slog.String("req_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func logStorageError(r *http.Request, logger *slog.Logger, op string, err error) {
	logger.Error("storage_error",
		slog.String("req_id", chimw.GetReqID(r.Context())),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

func storageFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	logStorageError(r, logger, op, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
