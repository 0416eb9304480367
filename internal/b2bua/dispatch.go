package b2bua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/rustalk/sbc/internal/digestauth"
	"github.com/rustalk/sbc/internal/metrics"
	"github.com/rustalk/sbc/internal/routing"
	"github.com/rustalk/sbc/internal/sdpnego"
	"github.com/rustalk/sbc/internal/session"
)

// handleInvite is the entry point for a new A-leg INVITE. It enforces the
// perimeter ACL, challenges for digest credentials when configured,
// resolves a route, negotiates SDP, and originates the B-leg.
func (c *Core) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	cid := callID(req)
	logger := c.logger.With("call_id", cid)

	logger.Info("invite received", "from", fromUser(req), "to", toUser(req), "source", req.Source())

	if !c.sourceAllowed(req) {
		logger.Warn("invite rejected by acl", "source", req.Source())
		metrics.ACLDenials.WithLabelValues("perimeter").Inc()
		c.respondError(req, tx, 403, "Forbidden")
		return
	}

	if c.Auth != nil {
		if ok := c.authenticate(req, tx, logger); !ok {
			return
		}
	}

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		logger.Error("failed to send 100 trying", "error", err)
		return
	}

	callerID := fromUser(req)
	destination := requestUser(req)

	var route routing.Result
	if c.Router != nil {
		var err error
		route, err = c.Router.Evaluate(callerID, destination)
		if err != nil {
			logger.Warn("no route for invite", "caller_id", callerID, "destination", destination, "error", err)
			outcome := "no_route"
			if errors.Is(err, routing.ErrRejected) {
				outcome = "rejected"
			}
			metrics.RouteMisses.WithLabelValues(outcome).Inc()
			c.respondError(req, tx, 404, "Not Found")
			return
		}
	} else {
		route = routing.Result{Destination: routing.Destination{Kind: routing.DestinationExtension, Value: destination}}
	}

	offer, err := sdpnego.Parse(req.Body())
	if err != nil {
		logger.Error("failed to parse sdp offer", "error", err)
		c.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}
	offeredAudio := offer.AudioMedia()
	if offeredAudio == nil {
		logger.Warn("sdp offer has no audio media section")
		c.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	answer, err := sdpnego.BuildAnswer(offer, c.Codecs, c.cfg.MediaAddr, offeredAudio.Port)
	if err != nil {
		logger.Warn("sdp negotiation failed", "error", err)
		metrics.CodecNegotiationFailures.Inc()
		c.respondError(req, tx, 488, "Not Acceptable Here")
		return
	}

	sess := c.Sessions.Create(cid)
	sess.A.FromTag = fromTag(req)
	sess.A.RemoteAddr = req.Source()
	sess.A.SDP = offer
	sess.A.Req = req
	c.Sessions.Transition(sess, session.StateRinging)

	recipient, err := destinationURI(route.Destination, c.cfg.Domain)
	if err != nil {
		logger.Error("failed to build b-leg recipient", "error", err)
		c.respondError(req, tx, 500, "Internal Server Error")
		c.Sessions.Remove(cid, "internal_error")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), TimerB)
	defer cancel()

	bRes, bTx, err := c.originateBLeg(ctx, recipient, answer.Marshal(), logger)
	if err != nil {
		logger.Warn("b-leg invite failed", "error", err)
		c.respondError(req, tx, 502, "Bad Gateway")
		c.Sessions.Remove(cid, "b_leg_failure")
		return
	}

	sess.B.Tx = bTx
	sess.B.Res = bRes
	sess.B.ToTag = toTag(bRes)
	sess.B.RemoteAddr = recipient.String()

	finalRes := sip.NewResponseFromRequest(req, bRes.StatusCode, bRes.Reason, bRes.Body())
	if bRes.StatusCode >= 200 && bRes.StatusCode < 300 {
		c.Sessions.Transition(sess, session.StateEstablished)
	}

	if err := tx.Respond(finalRes); err != nil {
		logger.Error("failed to relay final response to a-leg", "error", err)
	}
}

// authenticate challenges and validates digest credentials on req. It
// returns false (and has already written a SIP response) when the
// transaction should not continue.
func (c *Core) authenticate(req *sip.Request, tx sip.ServerTransaction, logger *slog.Logger) bool {
	authHeader := req.GetHeader("Authorization")
	if authHeader == nil {
		header, _, err := c.Auth.Challenge()
		if err != nil {
			logger.Error("failed to build auth challenge", "error", err)
			c.respondError(req, tx, 500, "Internal Server Error")
			return false
		}
		unauth := sip.NewResponseFromRequest(req, 401, "Unauthorized", nil)
		unauth.AppendHeader(sip.NewHeader("WWW-Authenticate", header))
		if err := tx.Respond(unauth); err != nil {
			logger.Error("failed to send 401 challenge", "error", err)
		}
		return false
	}

	if _, err := c.Auth.Validate(req.Source(), string(req.Method), authHeader.Value()); err != nil {
		logger.Warn("auth validation failed", "error", err)
		if errors.Is(err, digestauth.ErrBlocked) {
			metrics.AuthBlocks.Inc()
			c.respondError(req, tx, 403, "Forbidden")
			return false
		}
		metrics.AuthFailures.WithLabelValues(authFailureReason(err)).Inc()
		// Any other failure (bad credentials, stale/replayed/unknown nonce)
		// is re-challenged with a fresh nonce rather than rejected outright.
		header, _, chalErr := c.Auth.Challenge()
		if chalErr != nil {
			logger.Error("failed to build auth challenge", "error", chalErr)
			c.respondError(req, tx, 500, "Internal Server Error")
			return false
		}
		unauth := sip.NewResponseFromRequest(req, 401, "Unauthorized", nil)
		unauth.AppendHeader(sip.NewHeader("WWW-Authenticate", header))
		if err := tx.Respond(unauth); err != nil {
			logger.Error("failed to send 401 re-challenge", "error", err)
		}
		return false
	}
	return true
}

// handleAck absorbs the in-dialog ACK. ACK is non-transactional in sipgo;
// there is no response to send.
func (c *Core) handleAck(req *sip.Request, _ sip.ServerTransaction) {
	cid := callID(req)
	if sess := c.Sessions.ByCallID(cid); sess != nil {
		c.logger.Debug("ack received", "call_id", cid, "session_id", sess.ID)
	}
}

// handleBye tears down both legs of the session the BYE belongs to and
// relays the hangup to the other side.
func (c *Core) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	cid := callID(req)
	logger := c.logger.With("call_id", cid)

	sess := c.Sessions.ByCallID(cid)
	if sess == nil {
		logger.Warn("bye for unknown call")
		c.respondError(req, tx, 481, "Call/Transaction Does Not Exist")
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to bye", "error", err)
	}

	c.sendByeToBLeg(sess, logger)
	c.Sessions.Remove(cid, "normal_clearing")
}

// handleCancel cancels the pending B-leg origination for a ringing
// session and responds 200 to the CANCEL and 487 to the original INVITE.
func (c *Core) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	cid := callID(req)
	logger := c.logger.With("call_id", cid)

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to cancel", "error", err)
	}

	sess := c.Sessions.ByCallID(cid)
	if sess == nil {
		return
	}
	if sess.B.Tx != nil {
		sess.B.Tx.Terminate()
	}
	c.Sessions.Remove(cid, "originator_cancel")
}

// handleOptions answers SIP OPTIONS keepalive pings without touching
// session state.
func (c *Core) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	c.logger.Debug("options received", "from", fromUser(req), "source", req.Source())

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS, INFO"))
	res.AppendHeader(sip.NewHeader("Supported", "replaces, timer"))

	if err := tx.Respond(res); err != nil {
		c.logger.Error("failed to respond to options", "error", err)
	}
}

func (c *Core) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		c.logger.Error("failed to send error response", "code", code, "error", err)
	}
}

// originateBLeg sends an INVITE to recipient and blocks for the final
// response, bounded by ctx (TimerB).
func (c *Core) originateBLeg(ctx context.Context, recipient sip.Uri, body []byte, logger *slog.Logger) (*sip.Response, sip.ClientTransaction, error) {
	req := sip.NewRequest(sip.INVITE, recipient)
	req.SetBody(body)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	tx, err := c.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return nil, nil, fmt.Errorf("sending b-leg invite to %s: %w", recipient.String(), err)
	}

	for {
		select {
		case <-ctx.Done():
			tx.Terminate()
			return nil, nil, fmt.Errorf("b-leg invite to %s timed out: %w", recipient.String(), ctx.Err())
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, nil, fmt.Errorf("b-leg transaction error: %w", err)
			}
			return nil, nil, fmt.Errorf("b-leg transaction ended without final response")
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, nil, fmt.Errorf("b-leg response channel closed unexpectedly")
			}
			if res.IsProvisional() {
				continue
			}
			return res, tx, nil
		}
	}
}

// authFailureReason maps a digestauth validation error to a short label
// for the sbc_auth_failures_total counter.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, digestauth.ErrNonceExpired):
		return "nonce_expired"
	case errors.Is(err, digestauth.ErrNonceReplayed):
		return "nonce_replayed"
	case errors.Is(err, digestauth.ErrNonceUnknown):
		return "nonce_unknown"
	case errors.Is(err, digestauth.ErrBadCredentials):
		return "bad_credentials"
	default:
		return "other"
	}
}

func fromUser(req *sip.Request) string {
	if from := req.From(); from != nil {
		return from.Address.User
	}
	return ""
}

func toUser(req *sip.Request) string {
	if to := req.To(); to != nil {
		return to.Address.User
	}
	return ""
}

func requestUser(req *sip.Request) string {
	return req.Recipient.User
}
