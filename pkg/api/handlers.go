package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/relayer"
	"github.com/speedrun-hq/speedrun-settler/pkg/settlement"
)

// maxBodyBytes bounds request bodies; hook data and CCTP messages are a few hundred bytes
const maxBodyBytes = 1 << 20

// RedeemBody is the body of POST /v1/intents/redeem. The payer is the authenticated
// caller; a payer given in the body must match it.
type RedeemBody struct {
	Payer     *common.Address      `json:"payer,omitempty"`
	OrderID   common.Hash          `json:"orderId"`
	Intent    intent.PaymentIntent `json:"intent"`
	Signature hexutil.Bytes        `json:"signature"`
}

// SwapHookBody is the body of POST /v1/swap/hook
type SwapHookBody struct {
	TokenIn     common.Address        `json:"tokenIn"`
	TokenOut    common.Address        `json:"tokenOut"`
	AmountInMax *math.HexOrDecimal256 `json:"amountInMax"`
	AmountOut   *math.HexOrDecimal256 `json:"amountOut"`
	HookData    hexutil.Bytes         `json:"hookData"`
}

// RelayBody is the body of POST /v1/relay
type RelayBody struct {
	Message     hexutil.Bytes        `json:"message"`
	Attestation hexutil.Bytes        `json:"attestation"`
	Intent      intent.PaymentIntent `json:"intent"`
	Signature   hexutil.Bytes        `json:"signature"`
}

// RescueBody is the body of POST /v1/recovery/rescue
type RescueBody struct {
	Token  common.Address        `json:"token"`
	To     common.Address        `json:"to"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

// ResolveBody is the body of POST /v1/recovery/resolve
type ResolveBody struct {
	MessageID common.Hash    `json:"messageId"`
	To        common.Address `json:"to"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error  string            `json:"error"`
	Reason intent.ReasonCode `json:"reason"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var body RedeemBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Payer != nil && *body.Payer != caller {
		s.writeError(w, fmt.Errorf("%w: payer %s is not the authenticated caller %s",
			intent.ErrUnauthorizedCaller, body.Payer.Hex(), caller.Hex()))
		return
	}

	out, err := s.engine.Redeem(r.Context(), settlement.RedeemRequest{
		Payer:     caller,
		OrderID:   body.OrderID,
		Intent:    body.Intent,
		Signature: body.Signature,
	})
	s.writeOutcome(w, out, err)
}

func (s *Server) handleSwapHook(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var body SwapHookBody
	if !s.decode(w, r, &body) {
		return
	}

	out, err := s.engine.SwapHook(r.Context(), settlement.SwapHookRequest{
		Caller:      caller,
		TokenIn:     body.TokenIn,
		TokenOut:    body.TokenOut,
		AmountInMax: (*big.Int)(body.AmountInMax),
		AmountOut:   (*big.Int)(body.AmountOut),
		HookData:    body.HookData,
	})
	s.writeOutcome(w, out, err)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var body RelayBody
	if !s.decode(w, r, &body) {
		return
	}

	out, err := s.engine.Relay(r.Context(), settlement.RelayRequest{
		Caller:      caller,
		Message:     body.Message,
		Attestation: body.Attestation,
		Intent:      body.Intent,
		Signature:   body.Signature,
	})
	s.writeOutcome(w, out, err)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, settlement.ErrNoTransmitter)
		return
	}

	var job relayer.Job
	if !s.decode(w, r, &job) {
		return
	}
	if job.TxHash == (common.Hash{}) {
		s.writeError(w, fmt.Errorf("%w: txHash is required", intent.ErrMalformedPayload))
		return
	}

	id, err := s.jobs.Submit(job)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status, _ := s.jobs.Status(id)
	s.writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, settlement.ErrNoTransmitter)
		return
	}

	status, ok := s.jobs.Status(r.PathValue("id"))
	if !ok {
		s.writeError(w, fmt.Errorf("%w: job %s", intent.ErrNotFound, r.PathValue("id")))
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFailedRelay(w http.ResponseWriter, r *http.Request) {
	messageID, ok := s.hashParam(w, r, "messageId")
	if !ok {
		return
	}

	failed, err := s.engine.Store().FailedRelay(r.Context(), messageID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, failed)
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var body RescueBody
	if !s.decode(w, r, &body) {
		return
	}

	ev, err := s.engine.RescueFunds(r.Context(), caller, body.Token, body.To, (*big.Int)(body.Amount))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var body ResolveBody
	if !s.decode(w, r, &body) {
		return
	}

	ev, err := s.engine.ResolveFailedRelay(r.Context(), caller, body.MessageID, body.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSalt(w http.ResponseWriter, r *http.Request) {
	salt, ok := s.hashParam(w, r, "salt")
	if !ok {
		return
	}

	rec, err := s.engine.Store().SaltRecord(r.Context(), salt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.hashParam(w, r, "orderId")
	if !ok {
		return
	}

	used, err := s.engine.Store().OrderIDUsed(r.Context(), orderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": orderID, "used": used})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ledger.EventFilter{Type: ledger.EventType(query.Get("type"))}

	if ref := query.Get("originRef"); ref != "" {
		h, err := parseHash(ref)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.OriginRef = &h
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit %q", intent.ErrMalformedPayload, limit))
			return
		}
		filter.Limit = n
	}

	events, err := s.engine.Store().Events(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// decode reads a JSON body into v, writing a 400 response on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", intent.ErrMalformedPayload, err))
		return false
	}
	return true
}

func (s *Server) hashParam(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	h, err := parseHash(r.PathValue(name))
	if err != nil {
		s.writeError(w, err)
		return common.Hash{}, false
	}
	return h, true
}

// parseHash accepts a 0x-prefixed 32-byte hex value
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is not a 32-byte hex value", intent.ErrMalformedPayload, s)
	}
	return common.BytesToHash(b), nil
}

func (s *Server) writeOutcome(w http.ResponseWriter, out *settlement.Outcome, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("API request failed: %v", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Reason: intent.Reason(err)})
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, relayer.ErrQueueFull), errors.Is(err, relayer.ErrNotRunning),
		errors.Is(err, settlement.ErrNoTransmitter):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, relayer.ErrDuplicateJob):
		return http.StatusConflict
	}

	switch intent.Reason(err) {
	case intent.ReasonMalformedPayload:
		return http.StatusBadRequest
	case intent.ReasonUnauthorizedCaller:
		return http.StatusForbidden
	case intent.ReasonNotFound:
		return http.StatusNotFound
	case intent.ReasonReentrantRedemption, intent.ReasonAlreadyResolved:
		return http.StatusConflict
	case intent.ReasonTransferFailed:
		return http.StatusBadGateway
	case intent.ReasonInternal:
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}
