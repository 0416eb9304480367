package b2bua

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/rustalk/sbc/internal/routing"
	"github.com/rustalk/sbc/internal/session"
)

// destinationURI resolves a routing destination to the sip.Uri the B-leg
// INVITE should target. Extension and trunk destinations are dialed within
// the local domain; custom destinations carry a full SIP URI already.
func destinationURI(dest routing.Destination, domain string) (sip.Uri, error) {
	switch dest.Kind {
	case routing.DestinationCustom:
		var uri sip.Uri
		if err := sip.ParseUri(dest.Value, &uri); err != nil {
			return sip.Uri{}, fmt.Errorf("parsing custom destination uri %q: %w", dest.Value, err)
		}
		return uri, nil
	case routing.DestinationHangup:
		return sip.Uri{}, fmt.Errorf("route resolved to hangup")
	default:
		return sip.Uri{Scheme: "sip", User: dest.Value, Host: domain}, nil
	}
}

// sendByeToBLeg sends a BYE to the B-leg's recorded remote address, if
// any. handleBye calls it for every BYE it correlates to a session, so the
// BYE always goes to the B-leg; no BYE is ever sent towards the A-leg.
func (c *Core) sendByeToBLeg(sess *session.Session, logger *slog.Logger) {
	if sess.B.RemoteAddr == "" {
		return
	}

	var recipient sip.Uri
	if err := sip.ParseUri(sess.B.RemoteAddr, &recipient); err != nil {
		logger.Warn("failed to parse b-leg remote address for bye", "error", err)
		return
	}

	req := sip.NewRequest(sip.BYE, recipient)
	req.AppendHeader(sip.NewHeader("Call-ID", sess.CallID))

	tx, err := c.client.TransactionRequest(context.Background(), req, sipgo.ClientRequestBuild)
	if err != nil {
		logger.Warn("failed to send bye to b-leg", "error", err)
		return
	}
	defer tx.Terminate()

	select {
	case <-tx.Done():
	case res, ok := <-tx.Responses():
		if ok {
			logger.Debug("b-leg bye response", "status", res.StatusCode)
		}
	}
}
