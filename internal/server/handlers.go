package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tradingcore/internal/broker"
	"github.com/aristath/tradingcore/internal/trading"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startSessionRequest struct {
	PortfolioID  uuid.UUID       `json:"portfolio_id"`
	StartingCash decimal.Decimal `json:"starting_cash"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if req.PortfolioID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "validation", "portfolio_id is required")
		return
	}

	if err := s.trading.Start(r.Context(), req.PortfolioID, req.StartingCash); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = decodeJSON(r, &req)

	if err := s.trading.Stop(r.Context(), req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = decodeJSON(r, &req)

	if err := s.trading.Pause(r.Context(), req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.trading.Resume(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleUnlockSession(w http.ResponseWriter, r *http.Request) {
	if err := s.trading.Unlock(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

type emergencyStopRequest struct {
	Reason          string `json:"reason"`
	ClosePositions  bool   `json:"close_positions"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	if err := s.trading.EmergencyStop(r.Context(), req.Reason, req.ClosePositions); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, errMsg := s.trading.GetSessionStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"error_message": errMsg,
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req trading.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	ord, err := s.trading.PlaceOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "orderID must be a uuid")
		return
	}

	if err := s.trading.CancelOrder(r.Context(), orderID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trading.GetPositions())
}

func (s *Server) handleGetRiskSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trading.GetRiskSummary())
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.reloadCfg == nil {
		writeError(w, http.StatusNotImplemented, "internal", "config reload is not configured")
		return
	}
	if err := s.reloadCfg(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleDebugEvents serves the bus's in-memory ring of recently published
// events. It defaults to JSON but returns compact msgpack when the caller
// asks for it via Accept, since the ring already holds typed structs that
// round-trip through msgpack without the stringified-decimal requirement
// that rules it out for snapshot persistence.
func (s *Server) handleDebugEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.bus.Recent(200)
	if strings.Contains(r.Header.Get("Accept"), "msgpack") {
		writeMsgpack(w, http.StatusOK, recent)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleDebugAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.audit.Recent(200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, map[string]string{"category": category, "message": message})
}

func writeMsgpack(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(status)
	_ = msgpack.NewEncoder(w).Encode(data)
}

// writeServiceError classifies an orchestrator error into §6's error
// categories (not-found, validation, conflict, risk-blocked,
// broker-error, internal) and writes the matching HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trading.ErrSessionLocked), errors.Is(err, trading.ErrSessionNotRunning), errors.Is(err, trading.ErrNoActiveSession):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, trading.ErrOrderNotActive):
		writeError(w, http.StatusNotFound, "not-found", err.Error())
	case errors.Is(err, trading.ErrRiskBlocked):
		writeError(w, http.StatusUnprocessableEntity, "risk-blocked", err.Error())
	case errors.Is(err, broker.ErrInsufficientBalance), errors.Is(err, broker.ErrSymbolNotTradable), errors.Is(err, broker.ErrOrderNotFound):
		writeError(w, http.StatusBadGateway, "broker-error", err.Error())
	default:
		var brokerErr *broker.Error
		if errors.As(err, &brokerErr) {
			writeError(w, http.StatusBadGateway, "broker-error", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
