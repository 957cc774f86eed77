package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/convograph/internal/app"
	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/graph"
	"github.com/nidhogg/convograph/internal/layout"
	"github.com/nidhogg/convograph/internal/settings"
	"github.com/nidhogg/convograph/internal/source"
	"github.com/nidhogg/convograph/internal/timeline"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	app    *app.App
	client *source.Client
	store  *settings.Store
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(a *app.App, client *source.Client, store *settings.Store, logger *zap.Logger) *Handler {
	return &Handler{app: a, client: client, store: store, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/frame", h.getFrame)
		r.Get("/status", h.status)
		r.Post("/reload", h.reload)

		// Settings
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)

		// Filter routes
		r.Get("/filters", h.getFilters)
		r.Put("/filters/{axis}", h.setFilterAxis)

		// Timeline routes
		r.Post("/timeline/play", h.timelinePlay)
		r.Post("/timeline/pause", h.timelinePause)
		r.Post("/timeline/reset", h.timelineReset)
		r.Post("/timeline/seek", h.timelineSeek)
		r.Post("/timeline/step", h.timelineStep)
		r.Post("/timeline/window", h.timelineWindow)

		// Semantic search
		r.Post("/search/semantic", h.semanticSearch)
		r.Delete("/search/semantic", h.clearSemanticSearch)

		// Drag input
		r.Post("/drag/begin", h.dragBegin)
		r.Post("/drag/move", h.dragMove)
		r.Post("/drag/end", h.dragEnd)

		// Session drill-down
		r.Get("/session/{id}", h.getSessionDetail)
		r.Get("/session/{id}/summary", h.getSessionSummary)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "convograph"})
}

type frameNode struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type frameResponse struct {
	Nodes      []frameNode        `json:"nodes"`
	Edges      []graph.Edge       `json:"edges"`
	Position   float64            `json:"position"`
	PlayState  timeline.PlayState `json:"play_state"`
	NeedsFrame bool               `json:"needs_frame"`
	NodeSize   float64            `json:"node_size"`
	ShowArrows bool               `json:"show_arrows"`
}

// getFrame resolves the current render set without advancing time; the
// frame loop owns dt.
func (h *Handler) getFrame(w http.ResponseWriter, r *http.Request) {
	rs := h.app.Update(0)
	positions := h.app.Positions()

	cfg := h.app.Settings()
	resp := frameResponse{
		Nodes:      make([]frameNode, 0, len(rs.Nodes)),
		Edges:      rs.Edges,
		NeedsFrame: h.app.NeedsFrame(),
		NodeSize:   cfg.NodeSize,
		ShowArrows: cfg.ShowArrows,
	}
	for id := range rs.Nodes {
		pos := positions[id]
		resp.Nodes = append(resp.Nodes, frameNode{ID: id, X: pos.X, Y: pos.Y})
	}
	h.app.WithTimeline(func(tl *timeline.Timeline) {
		resp.Position = tl.Position()
		resp.PlayState = tl.State()
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Status(r.Context()))
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Reload(r.Context()); err != nil {
		status := http.StatusBadGateway
		if !errors.Is(err, source.ErrSourceUnavailable) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Settings())
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg.Migrate()
	if err := h.store.Save(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.app.ApplySettings(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

type filterStateResponse struct {
	ToolUse             filter.Mode `json:"tool_use"`
	Importance          filter.Mode `json:"importance"`
	ImportanceThreshold float64     `json:"importance_threshold"`
	Project             filter.Mode `json:"project"`
	HiddenProjects      []string    `json:"hidden_projects"`
}

func (h *Handler) getFilters(w http.ResponseWriter, r *http.Request) {
	var resp filterStateResponse
	h.app.WithFilters(func(fl *filter.Engine) {
		cfg := fl.Config()
		resp = filterStateResponse{
			ToolUse:             cfg.ToolUse,
			Importance:          cfg.Importance,
			ImportanceThreshold: cfg.ImportanceThreshold,
			Project:             cfg.Project,
		}
		for p := range cfg.HiddenProjects {
			resp.HiddenProjects = append(resp.HiddenProjects, p)
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type filterAxisRequest struct {
	Mode      filter.Mode `json:"mode"`
	Threshold *float64    `json:"threshold,omitempty"`
	Projects  []string    `json:"projects,omitempty"`
}

func (h *Handler) setFilterAxis(w http.ResponseWriter, r *http.Request) {
	axis := chi.URLParam(r, "axis")
	var req filterAxisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !req.Mode.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be off, inactive or filtered"})
		return
	}

	applied := true
	h.app.WithFilters(func(fl *filter.Engine) {
		switch axis {
		case "tool_use":
			fl.SetToolUseMode(req.Mode)
		case "importance":
			fl.SetImportanceMode(req.Mode)
			if req.Threshold != nil {
				fl.SetImportanceThreshold(*req.Threshold)
			}
		case "project":
			fl.SetProjectMode(req.Mode)
			if req.Projects != nil {
				fl.SetHiddenProjects(req.Projects)
			}
		default:
			applied = false
		}
	})
	if !applied {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown filter axis"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"axis": axis, "mode": string(req.Mode)})
}

func (h *Handler) timelinePlay(w http.ResponseWriter, r *http.Request) {
	h.app.WithTimeline(func(tl *timeline.Timeline) { tl.Play() })
	h.timelineState(w)
}

func (h *Handler) timelinePause(w http.ResponseWriter, r *http.Request) {
	h.app.WithTimeline(func(tl *timeline.Timeline) { tl.Pause() })
	h.timelineState(w)
}

func (h *Handler) timelineReset(w http.ResponseWriter, r *http.Request) {
	h.app.WithTimeline(func(tl *timeline.Timeline) { tl.Reset() })
	h.timelineState(w)
}

type seekRequest struct {
	Position float64 `json:"position"`
	Snap     bool    `json:"snap,omitempty"`
}

func (h *Handler) timelineSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.app.WithTimeline(func(tl *timeline.Timeline) {
		pos := req.Position
		if req.Snap {
			pos = tl.SnapToNotch(pos)
		}
		tl.Seek(pos)
	})
	h.timelineState(w)
}

type stepRequest struct {
	Direction int `json:"direction"`
}

func (h *Handler) timelineStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Direction != 1 && req.Direction != -1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "direction must be 1 or -1"})
		return
	}
	h.app.WithTimeline(func(tl *timeline.Timeline) { tl.Step(req.Direction) })
	h.timelineState(w)
}

type windowRequest struct {
	Start float64 `json:"start"`
}

func (h *Handler) timelineWindow(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var start float64
	h.app.WithTimeline(func(tl *timeline.Timeline) {
		tl.SetWindowStart(req.Start)
		start = tl.WindowStart()
	})

	// The window start is part of the persisted snapshot; store the
	// clamped value so it survives a restart.
	cfg := h.app.Settings()
	cfg.TimelineWindowStart = start
	if err := h.store.Save(cfg); err != nil {
		h.logger.Warn("failed to persist window start", zap.Error(err))
	} else {
		h.app.ApplySettings(cfg)
	}
	h.timelineState(w)
}

func (h *Handler) timelineState(w http.ResponseWriter) {
	var resp map[string]interface{}
	h.app.WithTimeline(func(tl *timeline.Timeline) {
		resp = map[string]interface{}{
			"state":        tl.State(),
			"position":     tl.Position(),
			"window_start": tl.WindowStart(),
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

type semanticSearchRequest struct {
	Query string `json:"query"`
}

func (h *Handler) semanticSearch(w http.ResponseWriter, r *http.Request) {
	var req semanticSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	matches, err := h.app.SemanticSearch(r.Context(), req.Query)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"matches": matches})
}

func (h *Handler) clearSemanticSearch(w http.ResponseWriter, r *http.Request) {
	h.app.ClearSemanticSearch()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type dragBeginRequest struct {
	ID string `json:"id"`
}

func (h *Handler) dragBegin(w http.ResponseWriter, r *http.Request) {
	var req dragBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !h.app.BeginDrag(req.ID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "node not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dragging", "id": req.ID})
}

type dragMoveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (h *Handler) dragMove(w http.ResponseWriter, r *http.Request) {
	var req dragMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.app.DragTo(layout.Vec2{X: req.X, Y: req.Y})
	writeJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

func (h *Handler) dragEnd(w http.ResponseWriter, r *http.Request) {
	h.app.EndDrag()
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) getSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.client.FetchSessionDetail(r.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, source.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) getSessionSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	summary, exists, err := h.client.FetchSessionSummary(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"summary":    summary,
		"exists":     exists,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
