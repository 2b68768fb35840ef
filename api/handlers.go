package api

import (
	"net/http"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/gin-gonic/gin"

	"github.com/quorumfeed/quorumfeed/commitreveal"
	"github.com/quorumfeed/quorumfeed/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func httpStatus(err error) int {
	switch {
	case errorsmod.IsOf(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errorsmod.IsOf(err, types.ErrFeedNotFound, types.ErrOracleNotFound,
		types.ErrCommitmentNotFound, types.ErrDisputeNotFound, types.ErrSlashEventNotFound):
		return http.StatusNotFound
	case errorsmod.IsOf(err, types.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errorsmod.IsOf(err, types.ErrCircuitOpen, types.ErrEngineDisabled):
		return http.StatusServiceUnavailable
	case errorsmod.IsOf(err, types.ErrDuplicateReport, types.ErrDuplicateCommitment,
		types.ErrAlreadyRegistered, types.ErrAlreadyRevealed, types.ErrDuplicateVote):
		return http.StatusConflict
	case errorsmod.IsOf(err, types.ErrStoreFailure):
		return http.StatusInternalServerError
	case errorsmod.IsOf(err, types.ErrPriceDeviation, types.ErrPotentialSandwich,
		types.ErrRapidSubmission, types.ErrSuspiciousGapMove, types.ErrTWAPDeviation,
		types.ErrProofInvalid, types.ErrRevealMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(httpStatus(err), errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}

type submitReportRequest struct {
	Submitter     string `json:"submitter" binding:"required"`
	Price         string `json:"price" binding:"required"`
	ConfidenceBps int64  `json:"confidence_bps" binding:"required"`
	ProofRef      string `json:"proof_ref"`
}

type submitReportResponse struct {
	Accepted  bool                   `json:"accepted"`
	Aggregate *types.AggregatedPrice `json:"aggregate,omitempty"`
}

func (s *Server) handleSubmitReport(c *gin.Context) {
	var req submitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	price, err := math.LegacyNewDecFromStr(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid price: " + err.Error()})
		return
	}

	agg, err := s.coord.SubmitReport(c.Request.Context(), actor(c), types.PriceObservation{
		FeedID:        c.Param("feedId"),
		Submitter:     req.Submitter,
		Price:         price,
		ConfidenceBps: req.ConfidenceBps,
		ProofRef:      req.ProofRef,
	}, time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, submitReportResponse{Accepted: true, Aggregate: agg})
}

func (s *Server) handleGetPrice(c *gin.Context) {
	agg, err := s.coord.GetLatestPrice(c.Param("feedId"), time.Now())
	if err != nil {
		if errorsmod.IsOf(err, types.ErrStaleData) && agg.FeedID != "" {
			// Stale values are still served, flagged.
			c.JSON(http.StatusOK, gin.H{"stale": true, "price": agg})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stale": false, "price": agg})
}

func (s *Server) handleGetCircuit(c *gin.Context) {
	status, err := s.coord.GetCircuitStatus(c.Param("feedId"), time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleGetOracle(c *gin.Context) {
	acct, err := s.coord.GetOracleInfo(c.Param("address"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handleCreateFeed(c *gin.Context) {
	var feed types.Feed
	if err := c.ShouldBindJSON(&feed); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.coord.CreateFeed(actor(c), feed); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, feed)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleSetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.coord.SetEnabled(actor(c), *req.Enabled); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

type tripRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleTripCircuit(c *gin.Context) {
	var req tripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.coord.TripCircuit(actor(c), c.Param("feedId"), req.Reason, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed_id": c.Param("feedId"), "state": types.CircuitOpen})
}

func (s *Server) handleResetCircuit(c *gin.Context) {
	if err := s.coord.ResetCircuit(actor(c), c.Param("feedId"), time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feed_id": c.Param("feedId"), "state": types.CircuitClosed})
}

func (s *Server) handleTripAll(c *gin.Context) {
	var req tripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.coord.TripAllCircuits(actor(c), req.Reason, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": types.CircuitOpen})
}

type resolveDisputeRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

func (s *Server) handleResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	d, err := s.coord.ResolveDispute(actor(c), c.Param("disputeId"), *req.Approve, time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type registerOracleRequest struct {
	Address  string `json:"address" binding:"required"`
	Stake    string `json:"stake" binding:"required"`
	Metadata string `json:"metadata"`
}

func (s *Server) handleRegisterOracle(c *gin.Context) {
	var req registerOracleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if actor(c) != req.Address {
		abortWith(c, errorsmod.Wrap(types.ErrUnauthorized, "token address does not match registration"))
		return
	}
	stake, ok := math.NewIntFromString(req.Stake)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid stake amount"})
		return
	}
	if err := s.ledger.Register(req.Address, stake, req.Metadata, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": req.Address, "stake": stake.String()})
}

type increaseStakeRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) handleIncreaseStake(c *gin.Context) {
	var req increaseStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	address := c.Param("address")
	if actor(c) != address {
		abortWith(c, errorsmod.Wrap(types.ErrUnauthorized, "token address does not match account"))
		return
	}
	amount, ok := math.NewIntFromString(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid stake amount"})
		return
	}
	if err := s.ledger.IncreaseStake(address, amount, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	acct, err := s.ledger.GetAccount(address)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handleDeregisterOracle(c *gin.Context) {
	address := c.Param("address")
	if actor(c) != address {
		abortWith(c, errorsmod.Wrap(types.ErrUnauthorized, "token address does not match account"))
		return
	}
	returned, err := s.ledger.Deregister(address)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "returned_stake": returned.String()})
}

func (s *Server) handleSlashingHistory(c *gin.Context) {
	events, err := s.ledger.SlashingHistory(c.Param("address"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type createDisputeRequest struct {
	SlashingEventID string `json:"slashing_event_id" binding:"required"`
}

func (s *Server) handleCreateDispute(c *gin.Context) {
	var req createDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	d, err := s.ledger.CreateDispute(actor(c), req.SlashingEventID, time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

type verifierRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) handleAddVerifier(c *gin.Context) {
	var req verifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !s.coord.HasRole(actor(c), types.RoleAdmin) {
		abortWith(c, errorsmod.Wrap(types.ErrUnauthorized, "admin role required"))
		return
	}
	if err := s.reveal.AddVerifier(req.Address, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": req.Address})
}

func (s *Server) handlePenalizeVerifier(c *gin.Context) {
	if !s.coord.HasRole(actor(c), types.RoleAdmin) {
		abortWith(c, errorsmod.Wrap(types.ErrUnauthorized, "admin role required"))
		return
	}
	info, err := s.reveal.ReportInvalidVerification(c.Param("address"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type commitRequest struct {
	Hash string `json:"hash" binding:"required"`
}

func (s *Server) handleCommit(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.reveal.Commit(req.Hash, actor(c), time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"hash": req.Hash})
}

type revealRequest struct {
	Hash      string `json:"hash" binding:"required"`
	Data      []byte `json:"data" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Nonce     uint64 `json:"nonce"`
}

func (s *Server) handleReveal(c *gin.Context) {
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.reveal.Reveal(req.Hash, actor(c), req.Data, req.Timestamp, req.Nonce, time.Now()); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": req.Hash, "revealed": true})
}

func (s *Server) handleApprove(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	verified, err := s.reveal.Approve(req.Hash, actor(c), time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": req.Hash, "fully_verified": verified})
}

type batchRequest struct {
	Hashes []string `json:"hashes" binding:"required"`
}

type batchItemResponse struct {
	Hash          string `json:"hash"`
	FullyVerified bool   `json:"fully_verified,omitempty"`
	Error         string `json:"error,omitempty"`
}

func batchItems(results []commitreveal.BatchResult) []batchItemResponse {
	out := make([]batchItemResponse, 0, len(results))
	for _, r := range results {
		item := batchItemResponse{Hash: r.Hash, FullyVerified: r.FullyVerified}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		out = append(out, item)
	}
	return out
}

func (s *Server) handleCommitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	root, results, err := s.reveal.CommitBatch(req.Hashes, actor(c), time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"merkle_root": root, "results": batchItems(results)})
}

func (s *Server) handleApproveBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	results, err := s.reveal.ApproveBatch(req.Hashes, actor(c), time.Now())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": batchItems(results)})
}
