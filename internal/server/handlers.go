package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/cryptotrader/internal/domain"
	"github.com/aristath/cryptotrader/internal/xerrors"
)

// writeJSON writes data as a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorBody is the structured error envelope every non-2xx response uses.
type errorBody struct {
	Error struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

// writeError renders err as {error:{kind,message,retryable}}, classifying
// it via xerrors when possible and falling back to a generic kind for
// untyped errors so the response shape is always the same.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{}
	if xerr, ok := xerrors.AsXError(err); ok {
		body.Error.Kind = string(xerr.Kind)
		body.Error.Message = xerr.Message
		body.Error.Retryable = xerr.Retryable
	} else {
		body.Error.Kind = "Internal"
		body.Error.Message = err.Error()
	}
	s.writeJSON(w, status, body)
}

// handleHealth reports liveness plus the current trading mode.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mode := s.store.Snapshot().Circuit.Mode
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.clk.Now().Sub(s.startedAt).String(),
		"mode":    mode,
		"version": Version,
	})
}

// handleVersion reports the build version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// handleStatus summarizes circuit state and open-book sizes.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":               snap.Circuit.Mode,
		"killed":             snap.Circuit.Killed,
		"halted":             snap.Circuit.IsHalted(),
		"last_trip_reason":   snap.Circuit.LastTripReason,
		"open_positions":     len(snap.Positions),
		"open_orders":        len(snap.OpenOrders),
		"last_sequence":      snap.LastSequence,
		"realized_pnl_today": snap.RealizedPnLToday,
	})
}

// handleAccountBalance reports cash, equity, and today's realized PnL.
func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	portfolio := s.store.Snapshot().Portfolio()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash_usd":           portfolio.CashUSD,
		"equity":             portfolio.Equity(),
		"realized_pnl_today": portfolio.RealizedPnLToday,
		"equity_at_open":     portfolio.EquityAtOpen,
	})
}

// handleAccountPositions lists currently open positions.
func (s *Server) handleAccountPositions(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, pos := range snap.Positions {
		out = append(out, pos)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleSystemStats reports host CPU/RAM utilization so an operator can
// tell resource pressure from trading pressure when latency spikes.
func (s *Server) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample cpu percent")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent": cpuAvg,
		"ram_percent": memStat.UsedPercent,
	})
}

type tradeExecuteRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
}

// handleTradeExecute forces a manual trade through the Risk Engine and
// OMS, bypassing the Signal Engine's consensus gate.
func (s *Server) handleTradeExecute(w http.ResponseWriter, r *http.Request) {
	var req tradeExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, xerrors.New(xerrors.KindValidationRejected, false, "invalid request body", err))
		return
	}
	side := domain.Side(req.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		s.writeError(w, http.StatusBadRequest, xerrors.New(xerrors.KindValidationRejected, false, "side must be buy or sell", nil))
		return
	}
	if err := s.orch.ExecuteManualTrade(r.Context(), req.Symbol, side, req.Confidence); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

// handleTradingStart resumes the control loop's ticks.
func (s *Server) handleTradingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Start(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// handleTradingStop pauses the control loop's ticks without flattening.
func (s *Server) handleTradingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopTrading(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type haltRequest struct {
	Reason string `json:"reason"`
}

// handleTradingHalt is the emergency stop: trips the circuit and
// flattens every open position.
func (s *Server) handleTradingHalt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "operator_halt"
	}
	if err := s.orch.HaltAll(r.Context(), req.Reason); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "halted"})
}

type resetCircuitRequest struct {
	Reason string `json:"reason"`
	Mode   string `json:"mode"`
}

// handleResetCircuit clears sticky circuit trips and resumes trading in
// the requested mode — always an explicit operator action.
func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	var req resetCircuitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, xerrors.New(xerrors.KindValidationRejected, false, "invalid request body", err))
		return
	}
	mode := domain.Mode(req.Mode)
	if mode == "" {
		mode = domain.ModePaper
	}
	if err := s.orch.ResetCircuit(r.Context(), req.Reason, mode); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
