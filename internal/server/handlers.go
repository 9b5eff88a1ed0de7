package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rewardclaims/internal/attempts"
	"rewardclaims/internal/auth"
	"rewardclaims/internal/claimflow"
	"rewardclaims/internal/claims"
	"rewardclaims/internal/wallet"
)

type openWorkflowRequest struct {
	// RewardAmount is a base-10 integer in the token's smallest unit.
	RewardAmount string `json:"rewardAmount"`
}

type openWorkflowResponse struct {
	WorkflowID string    `json:"workflowId"`
	State      stateView `json:"state"`
}

type stateView struct {
	WorkflowID        string `json:"workflowId"`
	ClaimID           string `json:"claimId"`
	Phase             string `json:"phase"`
	RewardAmount      string `json:"rewardAmount"`
	DisplayAmount     string `json:"displayAmount"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	ResolvedWallet    string `json:"resolvedWallet,omitempty"`
	ResolvedShort     string `json:"resolvedWalletShort,omitempty"`
	ExplorerURL       string `json:"explorerUrl,omitempty"`
	CurrentAddress    string `json:"currentAddress,omitempty"`
	CurrentShort      string `json:"currentAddressShort,omitempty"`
	ConnectionPending bool   `json:"connectionPending"`
}

type deliverWalletRequest struct {
	Address string `json:"address"`
}

type deliverWalletResponse struct {
	WorkflowID string `json:"workflowId"`
	Address    string `json:"address"`
}

func (s *Server) handleOpenWorkflow(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	claimID := chi.URLParam(r, "claimID")

	var payload openWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(payload.RewardAmount), 10, 64)
	if err != nil {
		http.Error(w, "rewardAmount must be a non-negative integer", http.StatusBadRequest)
		return
	}

	workflowID := uuid.NewString()
	log := s.log.With(zap.String("workflow_id", workflowID))
	bridge := wallet.NewBridge(s.cfg.Wallet.Chain, wallet.WithPrompt(func(context.Context) error {
		log.Info("wallet connection requested")
		return nil
	}))

	coord, err := claimflow.Open(s.baseCtx, id, claimflow.ClaimRequest{ClaimID: claimID, RewardAmount: amount}, bridge, s.claims,
		claimflow.WithLogger(log),
		claimflow.WithConnectTimeout(s.cfg.Wallet.ConnectTimeout),
		claimflow.WithSubmitTimeout(s.cfg.Claims.SubmitTimeout),
		claimflow.WithTransitionObserver(s.metrics.incTransition),
		claimflow.WithSuccessObserver(func(o claimflow.Outcome) {
			log.Info("claim initiated",
				zap.String("claim_id", o.ClaimID),
				zap.String("wallet", o.Wallet.String()),
				zap.String("amount", s.displayAmount(o.RewardAmount)))
		}),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}

	wf := &workflow{id: workflowID, owner: id.UserID, coord: coord, bridge: bridge}
	s.workflows.add(wf)
	s.metrics.incOpened()

	writeJSON(w, http.StatusCreated, openWorkflowResponse{
		WorkflowID: workflowID,
		State:      s.view(wf),
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(wf))
}

func (s *Server) handleCloseWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}
	s.workflows.remove(wf.id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func(wf *workflow) error {
		return wf.coord.RequestConnection(r.Context())
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	// A dropped client connection must not abandon a submission halfway;
	// the coordinator's submit timeout bounds it instead.
	ctx := context.WithoutCancel(r.Context())
	s.act(w, r, func(wf *workflow) error {
		return wf.coord.Confirm(ctx)
	})
}

func (s *Server) handleChangeWallet(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func(wf *workflow) error {
		return wf.coord.ChangeWallet()
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func(wf *workflow) error {
		return wf.coord.Retry()
	})
}

func (s *Server) act(w http.ResponseWriter, r *http.Request, fn func(*workflow) error) {
	wf, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}
	if err := fn(wf); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(wf))
}

func (s *Server) handleDeliverWallet(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflows.lookup(chi.URLParam(r, "workflowID"))
	if !ok || wf.coord.Closed() {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}

	var payload deliverWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	addr, err := wf.bridge.Deliver(payload.Address)
	switch {
	case errors.Is(err, wallet.ErrInvalidAddress):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, wallet.ErrNotPending):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, deliverWalletResponse{WorkflowID: wf.id, Address: addr.String()})
}

func (s *Server) handleDropWallet(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflows.lookup(chi.URLParam(r, "workflowID"))
	if !ok || wf.coord.Closed() {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	wf.bridge.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// handleListAttempts returns the caller's own attempts; admins see everyone's.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	list, err := s.store.List(r.Context(), chi.URLParam(r, "claimID"))
	if err != nil {
		s.log.Error("list claim attempts", zap.Error(err))
		http.Error(w, "failed to load attempts", http.StatusInternalServerError)
		return
	}

	out := make([]attempts.Attempt, 0, len(list))
	for _, a := range list {
		if id.Admin || a.UserID == id.UserID {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	apiInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.apiHealthFn != nil {
		start := time.Now()
		apiCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.apiHealthFn(apiCtx); err != nil {
			apiInfo.Connected = false
			apiInfo.Error = err.Error()
			overallHealthy = false
		} else {
			apiInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status          string      `json:"status"`
		ClaimsAPI       interface{} `json:"claims_api"`
		Database        interface{} `json:"database"`
		ActiveWorkflows int         `json:"active_workflows"`
	}{
		Status:          status,
		ClaimsAPI:       apiInfo,
		Database:        dbInfo,
		ActiveWorkflows: s.workflows.len(),
	})
}

// ownedWorkflow answers 404 for unknown ids and for workflows owned by
// someone else, so ids cannot be probed.
func (s *Server) ownedWorkflow(w http.ResponseWriter, r *http.Request) (*workflow, bool) {
	id, _ := auth.FromContext(r.Context())
	wf, ok := s.workflows.get(chi.URLParam(r, "workflowID"), id.UserID)
	if !ok {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return nil, false
	}
	return wf, true
}

func (s *Server) view(wf *workflow) stateView {
	req := wf.coord.Request()
	st := wf.coord.State()
	v := stateView{
		WorkflowID:        wf.id,
		ClaimID:           req.ClaimID,
		Phase:             string(st.Phase),
		RewardAmount:      strconv.FormatUint(req.RewardAmount, 10),
		DisplayAmount:     s.displayAmount(req.RewardAmount),
		ErrorMessage:      st.ErrorMessage,
		ConnectionPending: wf.bridge.IsPending(),
	}
	if st.ResolvedWallet != "" {
		v.ResolvedWallet = st.ResolvedWallet.String()
		v.ResolvedShort = wallet.Truncate(st.ResolvedWallet)
		v.ExplorerURL = wallet.ExplorerURL(wf.bridge.Chain(), st.ResolvedWallet)
	}
	if st.Phase == claimflow.PhaseConfirming {
		if addr, ok := wf.bridge.CurrentAddress(); ok {
			v.CurrentAddress = addr.String()
			v.CurrentShort = wallet.Truncate(addr)
		}
	}
	return v
}

func (s *Server) displayAmount(amount uint64) string {
	return claims.FormatAmount(amount, s.cfg.Token.Decimals) + " " + s.cfg.Token.Symbol
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, claimflow.ErrClosed):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case errors.Is(err, claimflow.ErrInvalidTransition), errors.Is(err, claimflow.ErrNoWallet):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, claimflow.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, claimflow.ErrNotEnrolled):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, claimflow.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("unhandled workflow error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
