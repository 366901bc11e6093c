package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
	"github.com/DevN0mad/JoinersLeavers/internal/services"
)

const APIv1Prefix = "/api/v1/"

// AdminServerOpts параметры для настройки административного сервера.
type AdminServerOpts struct {
	Address             string `mapstructure:"address" validate:"required"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds" validate:"min=0"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds" validate:"min=0"`
	IdleTimeoutSeconds  int    `mapstructure:"idle_timeout_seconds" validate:"min=0"`
}

// AdminServer отдаёт сводки и выгрузки по HTTP.
type AdminServer struct {
	logger   *slog.Logger
	opts     *AdminServerOpts
	srv      *http.Server
	reports  *services.ReportService
	validate *validator.Validate
}

// NewAdminHandler создаёт новый обработчик для административных команд.
func NewAdminHandler(logger *slog.Logger, reports *services.ReportService, opts *AdminServerOpts) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminServer{
		logger:   logger,
		opts:     opts,
		reports:  reports,
		validate: validator.New(),
	}
}

// Register регистрирует маршруты административного сервера.
func (h *AdminServer) Register(mux *http.ServeMux) {
	mux.HandleFunc(withPrefix("summary"), h.handleSummary)
	mux.HandleFunc(withPrefix("attorneys"), h.handleAttorneys)
	mux.HandleFunc(withPrefix("options"), h.handleOptions)
	mux.HandleFunc(withPrefix("export"), h.handleExport)
	mux.HandleFunc(withPrefix("report"), h.handleReport)
	mux.HandleFunc(withPrefix("runs"), h.handleRuns)
	mux.HandleFunc(withPrefix("reload"), h.handleReload)
}

// filterQuery параметры фильтра из query string.
type filterQuery struct {
	From   string   `validate:"omitempty,datetime=2006-01-02"`
	To     string   `validate:"omitempty,datetime=2006-01-02"`
	Years  []int    `validate:"dive,min=1900,max=2200"`
	People []string `validate:"dive,required,max=200"`
	Kind   string   `validate:"omitempty,oneof=joiner leaver"`
}

// parseFilter разбирает и проверяет параметры фильтра.
func (h *AdminServer) parseFilter(values url.Values) (services.Filter, error) {
	q := filterQuery{
		From:   values.Get("from"),
		To:     values.Get("to"),
		People: values["person"],
		Kind:   values.Get("kind"),
	}
	for _, y := range values["year"] {
		year, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			return services.Filter{}, fmt.Errorf("invalid year %q", y)
		}
		q.Years = append(q.Years, year)
	}

	if err := h.validate.Struct(&q); err != nil {
		return services.Filter{}, fmt.Errorf("invalid filter: %w", err)
	}

	from, err := services.ParseDay(q.From)
	if err != nil {
		return services.Filter{}, err
	}
	to, err := services.ParseDay(q.To)
	if err != nil {
		return services.Filter{}, err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return services.Filter{}, errors.New("invalid filter: to is before from")
	}

	return services.Filter{
		From:   from,
		To:     to,
		Years:  q.Years,
		People: q.People,
		Kind:   models.Kind(q.Kind),
	}, nil
}

// filterFromRequest проверяет метод и разбирает фильтр. При ошибке ответ уже записан.
func (h *AdminServer) filterFromRequest(w http.ResponseWriter, r *http.Request) (services.Filter, bool) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return services.Filter{}, false
	}

	f, err := h.parseFilter(r.URL.Query())
	if err != nil {
		h.logger.Warn("Bad filter", "query", r.URL.RawQuery, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return services.Filter{}, false
	}
	return f, true
}

// handleSummary отдаёт сводку в JSON.
func (h *AdminServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}

	summary, err := h.reports.Summary(r.Context(), f)
	if err != nil {
		h.logger.Error("Build summary", "error", err)
		http.Error(w, "Failed to build summary", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, summary)
}

// handleAttorneys отдаёт отфильтрованные строки.
func (h *AdminServer) handleAttorneys(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}

	ds, err := h.reports.Filtered(r.Context(), f)
	if err != nil {
		h.logger.Error("Load dataset", "error", err)
		http.Error(w, "Failed to load dataset", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, ds)
}

// handleOptions отдаёт допустимые значения фильтров.
func (h *AdminServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	opts, err := h.reports.Options(r.Context())
	if err != nil {
		h.logger.Error("Load filter options", "error", err)
		http.Error(w, "Failed to load dataset", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, opts)
}

// handleExport выгружает отфильтрованные строки в CSV.
func (h *AdminServer) handleExport(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.reports.WriteCSV(r.Context(), &buf, f); err != nil {
		h.logger.Error("Write csv", "error", err)
		http.Error(w, "Failed to load dataset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="filtered_data.csv"`)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("Send csv", "error", err)
	}
}

// handleReport обрабатывает запросы на получение отчёта.
// Книга собирается в буфер: заголовки и статус пишутся только после успешной сборки.
func (h *AdminServer) handleReport(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromRequest(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.reports.WriteExcel(r.Context(), &buf, f); err != nil {
		h.logger.Error("Generate report", "error", err)
		http.Error(w, "Failed to generate report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="joiners_leavers.xlsx"`)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("Send report", "error", err)
	}
}

// handleRuns отдаёт историю отчётов.
func (h *AdminServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || h.validate.Var(n, "min=1,max=500") != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.reports.Runs(r.Context(), limit)
	if err != nil {
		h.logger.Error("List runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, runs)
}

// handleReload перечитывает источник данных.
func (h *AdminServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("Method not allowed", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ds, err := h.reports.Reload(r.Context())
	if err != nil {
		h.logger.Error("Reload dataset", "error", err)
		http.Error(w, "Failed to reload dataset", http.StatusBadGateway)
		return
	}

	h.writeJSON(w, map[string]any{
		"source":    ds.Source,
		"attorneys": len(ds.Attorneys),
		"periods":   len(ds.Periods),
		"warnings":  ds.Warnings,
		"loaded_at": ds.LoadedAt,
	})
}

func (h *AdminServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Encode response", "error", err)
	}
}

// Start запускает административный сервер.
func (h *AdminServer) Start(ctx context.Context) error {
	h.logger.Info("Starting admin server", "address", h.opts.Address)
	mux := http.NewServeMux()
	h.Register(mux)
	h.srv = &http.Server{
		Addr:         h.opts.Address,
		ReadTimeout:  time.Duration(h.opts.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(h.opts.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(h.opts.IdleTimeoutSeconds) * time.Second,
		Handler:      mux,
	}

	go func() {
		<-ctx.Done()

		h.logger.Info("Shutting down admin server (ctx canceled)")

		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Admin server shutdown error", "error", err)
		}
	}()

	if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		h.logger.Error("Admin server error", "error", err)
		return err
	}

	h.logger.Info("Admin server stopped")
	return nil
}

// withPrefix добавляет префикс к пути API.
func withPrefix(postfix string) string {
	return APIv1Prefix + strings.TrimSpace(postfix)
}
