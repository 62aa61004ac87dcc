// Package api exposes the read projections, uploads and maintenance over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"kvkstats/internal/admin"
	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/parser"
	"kvkstats/internal/processor"
	"kvkstats/internal/queue"
	"kvkstats/internal/retriever"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxUploadSize limits spreadsheet uploads to 10MB.
const MaxUploadSize = 10 << 20

// Reader is the read side the dashboard endpoints serve from.
type Reader interface {
	ViewData(ctx context.Context, event string) (*retriever.ViewData, error)
	CampPerformance(ctx context.Context, event string) ([]retriever.CampRow, error)
	CampComparison(ctx context.Context, event string) ([]retriever.CampComparisonRow, error)
	KingdomPerformance(ctx context.Context, event string, groupByCamp bool) ([]retriever.KingdomRow, error)
	TopPlayers(ctx context.Context, event string, limit int) ([]aggregate.PlayerRecord, error)
	KingdomDetails(ctx context.Context, kd int, event string) (*retriever.KingdomDetails, error)
	UploadStatus(ctx context.Context) (map[int]retriever.UploadStatus, error)
	ClearCache(ctx context.Context) error
}

// Uploader runs the upload pipeline synchronously.
type Uploader interface {
	ProcessUpload(ctx context.Context, kd int, event string, upload *aggregate.Upload) processor.UploadResult
}

// Queue hands uploads to the worker.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload []byte) error
	Depth(ctx context.Context, queueName string) (queue.Depth, error)
}

// Maintainer runs the admin operations.
type Maintainer interface {
	ClearEventData(ctx context.Context) (*admin.Report, error)
	ResetDatabase(ctx context.Context) (*admin.Report, error)
	Rebuild(ctx context.Context) (*admin.Report, error)
}

// Config wires the handler to its services.
type Config struct {
	Table   *camps.Table
	Reader  Reader
	Uploads Uploader
	Admin   Maintainer
	Parsers *parser.Factory
	// Queue switches uploads to asynchronous mode when set.
	Queue     Queue
	QueueName string
	Logger    zerolog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	table     *camps.Table
	reader    Reader
	uploads   Uploader
	admin     Maintainer
	parsers   *parser.Factory
	queue     Queue
	queueName string
	logger    zerolog.Logger
}

// New builds a Handler, defaulting the parser factory.
func New(cfg Config) *Handler {
	parsers := cfg.Parsers
	if parsers == nil {
		parsers = parser.NewFactory()
	}
	return &Handler{
		table:     cfg.Table,
		reader:    cfg.Reader,
		uploads:   cfg.Uploads,
		admin:     cfg.Admin,
		parsers:   parsers,
		queue:     cfg.Queue,
		queueName: cfg.QueueName,
		logger:    cfg.Logger,
	}
}

// envelope wraps read responses. Degraded marks a zero-filled fallback served
// because storage could not be read.
type envelope struct {
	Data     any    `json:"data"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// View serves the combined dashboard payload.
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	data, err := h.reader.ViewData(r.Context(), eventParam(r))
	h.readResponse(w, r, data, err)
}

// Camps serves per-camp totals.
func (h *Handler) Camps(w http.ResponseWriter, r *http.Request) {
	data, err := h.reader.CampPerformance(r.Context(), eventParam(r))
	h.readResponse(w, r, data, err)
}

// CampComparison serves camps ranked against each other.
func (h *Handler) CampComparison(w http.ResponseWriter, r *http.Request) {
	data, err := h.reader.CampComparison(r.Context(), eventParam(r))
	h.readResponse(w, r, data, err)
}

// Kingdoms serves per-kingdom totals, optionally grouped by camp.
func (h *Handler) Kingdoms(w http.ResponseWriter, r *http.Request) {
	grouped, _ := strconv.ParseBool(r.URL.Query().Get("grouped"))
	data, err := h.reader.KingdomPerformance(r.Context(), eventParam(r), grouped)
	h.readResponse(w, r, data, err)
}

// Kingdom serves one kingdom with its players.
func (h *Handler) Kingdom(w http.ResponseWriter, r *http.Request) {
	kd, err := strconv.Atoi(chi.URLParam(r, "kd"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "kingdom number must be an integer")
		return
	}
	data, err := h.reader.KingdomDetails(r.Context(), kd, eventParam(r))
	h.readResponse(w, r, data, err)
}

// Players serves the top players, limited by the limit query parameter.
func (h *Handler) Players(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	data, err := h.reader.TopPlayers(r.Context(), eventParam(r), limit)
	h.readResponse(w, r, data, err)
}

// Status reports which kingdoms have uploaded each event.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	data, err := h.reader.UploadStatus(r.Context())
	h.readResponse(w, r, data, err)
}

// QueueDepth reports the upload queue lengths.
func (h *Handler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		errorResponse(w, http.StatusNotFound, "uploads are processed synchronously")
		return
	}
	depth, err := h.queue.Depth(r.Context(), h.queueName)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("queue depth")
		errorResponse(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	jsonResponse(w, http.StatusOK, depth)
}

// Upload accepts a multipart form with file, kd and event fields.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	kd, err := strconv.Atoi(strings.TrimSpace(r.FormValue("kd")))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "kd must be an integer")
		return
	}
	event := strings.TrimSpace(r.FormValue("event"))
	if event == "" {
		errorResponse(w, http.StatusBadRequest, "event is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "could not read file")
		return
	}

	upload, err := h.parsers.Parse(header.Filename, data)
	if err != nil {
		logger.Warn().Err(err).Str("file", header.Filename).Msg("spreadsheet rejected")
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.queue != nil {
		h.enqueue(w, r, kd, event, upload)
		return
	}

	result := h.uploads.ProcessUpload(r.Context(), kd, event, upload)
	if !result.Success {
		jsonResponse(w, http.StatusUnprocessableEntity, result)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// enqueue validates what can be checked up front and queues the upload.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, kd int, event string, upload *aggregate.Upload) {
	logger := zerolog.Ctx(r.Context())

	if _, ok := h.table.CampOf(kd); !ok {
		errorResponse(w, http.StatusUnprocessableEntity, (&aggregate.UnknownKingdomError{KDNumber: kd}).Error())
		return
	}
	if !h.table.HasEvent(event) {
		errorResponse(w, http.StatusUnprocessableEntity, (&aggregate.UnknownEventError{EventName: event}).Error())
		return
	}

	job := processor.NewUploadJob(kd, event, upload)
	payload, err := job.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("encode upload job")
		errorResponse(w, http.StatusInternalServerError, "could not queue upload")
		return
	}
	if err := h.queue.Enqueue(r.Context(), h.queueName, payload); err != nil {
		logger.Error().Err(err).Msg("enqueue upload job")
		errorResponse(w, http.StatusServiceUnavailable, "could not queue upload")
		return
	}

	logger.Info().Str("job_id", job.ID.String()).Int("kd", kd).Str("event", event).Msg("upload queued")
	jsonResponse(w, http.StatusAccepted, map[string]any{
		"jobId":  job.ID,
		"status": "queued",
		"rows":   len(upload.Rows),
	})
}

// ClearCache drops cached read projections.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.reader.ClearCache(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("clear cache")
		errorResponse(w, http.StatusInternalServerError, "could not clear cache")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ClearEvents deletes player records and event aggregates.
func (h *Handler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	h.maintenance(w, r, "clear event data", h.admin.ClearEventData)
}

// Reset deletes every player record and aggregate tier.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.maintenance(w, r, "reset database", h.admin.ResetDatabase)
}

// Rebuild recomputes the rollup tiers from the kingdom-event aggregates.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	h.maintenance(w, r, "rebuild aggregates", h.admin.Rebuild)
}

func (h *Handler) maintenance(w http.ResponseWriter, r *http.Request, name string, op func(context.Context) (*admin.Report, error)) {
	logger := zerolog.Ctx(r.Context())
	report, err := op(r.Context())
	if err != nil {
		logger.Error().Err(err).Str("operation", name).Msg("maintenance failed")
		errorResponse(w, http.StatusInternalServerError, name+" failed")
		return
	}
	logger.Info().Str("operation", name).Msg("maintenance completed")
	jsonResponse(w, http.StatusOK, report)
}

// readResponse maps a projection and its error onto a status code. Unknown
// kingdoms and events are client errors; storage failures still render the
// fallback, flagged as degraded.
func (h *Handler) readResponse(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err == nil {
		jsonResponse(w, http.StatusOK, envelope{Data: data})
		return
	}

	var unknownKD *aggregate.UnknownKingdomError
	var unknownEvent *aggregate.UnknownEventError
	switch {
	case errors.As(err, &unknownKD):
		jsonResponse(w, http.StatusNotFound, envelope{Data: data, Error: err.Error()})
	case errors.As(err, &unknownEvent):
		jsonResponse(w, http.StatusBadRequest, envelope{Data: data, Error: err.Error()})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("read failed, serving fallback")
		jsonResponse(w, http.StatusOK, envelope{Data: data, Degraded: true, Error: "data temporarily unavailable"})
	}
}

// eventParam reads the event filter, defaulting to all events.
func eventParam(r *http.Request) string {
	if ev := strings.TrimSpace(r.URL.Query().Get("event")); ev != "" {
		return ev
	}
	return camps.Cumulative
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
