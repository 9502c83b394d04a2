package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/swofeed/internal/fanout"
	"github.com/dgnsrekt/swofeed/internal/pipeline"
	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/ws"
)

// Feed is the TCP fan-out server.
type Feed interface {
	Stats() fanout.Stats
	Clients() ([]fanout.ClientInfo, error)
}

// Pipeline exposes producer counters.
type Pipeline interface {
	Snapshot() pipeline.Stats
}

// Hub is the WebSocket mirror.
type Hub interface {
	Stats() ws.Stats
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Symbols resolves addresses against the current image.
type Symbols interface {
	Loaded() bool
	Lookup(addr uint32) symbols.Result
}

// Reloader reloads the image on demand.
type Reloader interface {
	Reload(ctx context.Context) error
	Status() symbols.Status
}

// Handler serves the status API. Nil components are reported as absent.
type Handler struct {
	Feed     Feed
	Pipeline Pipeline
	Hub      Hub
	Symbols  Symbols
	Reloader Reloader
	Logger   *zap.Logger
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Server    *fanout.Stats   `json:"server,omitempty"`
	Pipeline  *pipeline.Stats `json:"pipeline,omitempty"`
	WebSocket *ws.Stats       `json:"websocket,omitempty"`
	Symbols   *symbols.Status `json:"symbols,omitempty"`
}

// SymbolResponse is the body of GET /api/v1/symbols/{addr}.
type SymbolResponse struct {
	Addr      string `json:"addr"`
	Function  string `json:"function"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	Found     bool   `json:"found"`
	Interrupt string `json:"interrupt,omitempty"`
	Text      string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if h.Feed != nil {
		st := h.Feed.Stats()
		resp.Server = &st
	}
	if h.Pipeline != nil {
		st := h.Pipeline.Snapshot()
		resp.Pipeline = &st
	}
	if h.Hub != nil {
		st := h.Hub.Stats()
		resp.WebSocket = &st
	}
	if h.Reloader != nil {
		st := h.Reloader.Status()
		resp.Symbols = &st
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetClients(w http.ResponseWriter, r *http.Request) {
	if h.Feed == nil {
		h.writeError(w, http.StatusNotFound, "no TCP server running")
		return
	}
	clients, err := h.Feed.Clients()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) LookupSymbol(w http.ResponseWriter, r *http.Request) {
	addr, err := symbols.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.Symbols == nil || !h.Symbols.Loaded() {
		h.writeError(w, http.StatusNotFound, symbols.ErrNoSymbols.Error())
		return
	}

	res := h.Symbols.Lookup(addr)
	resp := SymbolResponse{
		Addr:     fmt.Sprintf("0x%08X", res.Addr),
		Function: res.Function,
		File:     res.File,
		Line:     res.Line,
		Found:    res.Found,
		Text:     res.String(),
	}
	if res.Interrupt() {
		resp.Interrupt = res.Class.String()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ReloadSymbols(w http.ResponseWriter, r *http.Request) {
	if h.Reloader == nil {
		h.writeError(w, http.StatusNotFound, "no symbol file configured")
		return
	}
	if err := h.Reloader.Reload(r.Context()); err != nil {
		if errors.Is(err, symbols.ErrReloadInProgress) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger().Warn("symbol reload failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.Reloader.Status())
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger().Debug("encoding response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorResponse{Error: msg})
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
