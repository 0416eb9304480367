// Package b2bua implements the back-to-back user agent core: it receives
// SIP requests on the A-leg, classifies and routes them, originates the
// corresponding B-leg request, and relays responses between the two legs
// it never lets touch each other directly. This is the single boundary
// where routing/ACL/auth/codec sentinel errors are translated into SIP
// status codes.
package b2bua

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/rustalk/sbc/internal/acl"
	"github.com/rustalk/sbc/internal/codec"
	"github.com/rustalk/sbc/internal/digestauth"
	"github.com/rustalk/sbc/internal/routing"
	"github.com/rustalk/sbc/internal/session"
)

// T1 is the SIP RTT estimate per RFC 3261 §17.1.1.1; TimerB, the INVITE
// transaction timeout, is 64*T1.
const T1 = 500 * time.Millisecond

// TimerB bounds how long the core waits for a final response from the
// B-leg before giving up and returning 408 to the A-leg.
const TimerB = 64 * T1

// DefaultSessionExpires is the default RFC 4028 Session-Expires interval.
// Nothing in this package reads it: the core runs no session timer, and an
// established session stays in the store until a BYE or CANCEL removes it.
const DefaultSessionExpires = 1800 * time.Second

// Config bundles the wiring a Core needs from its caller.
type Config struct {
	Domain      string // local SIP domain, used in generated From/Contact
	BindAddr    string // host:port this core listens on for UDP/TCP
	TLSAddr     string // host:port for TLS, empty to disable
	TLSCertFile string
	TLSKeyFile  string
	MediaAddr   string // public IP advertised in SDP answers
}

// Core is the B2BUA engine: it owns the SIP transport, the session store,
// and the security/routing components it consults on every request.
type Core struct {
	cfg Config

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	Sessions *session.Store
	ACLs     *acl.Manager
	Auth     *digestauth.Authenticator
	Router   *routing.Engine
	Codecs   *codec.Catalog

	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a B2BUA core. Any of ACLs/Auth/Router may be nil to disable
// that perimeter/routing stage (useful for focused tests); Codecs must not
// be nil.
func New(cfg Config, codecs *codec.Catalog, logger *slog.Logger) (*Core, error) {
	logger = logger.With("component", "b2bua")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("rustalk-sbc"),
		sipgo.WithUserAgentHostname(cfg.Domain),
	)
	if err != nil {
		return nil, fmt.Errorf("b2bua: creating user agent: %w", err)
	}

	server, err := sipgo.NewServer(ua, sipgo.WithServerLogger(logger))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("b2bua: creating server: %w", err)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(logger))
	if err != nil {
		server.Close()
		ua.Close()
		return nil, fmt.Errorf("b2bua: creating client: %w", err)
	}

	c := &Core{
		cfg:      cfg,
		ua:       ua,
		server:   server,
		client:   client,
		Sessions: session.NewStore(logger),
		Codecs:   codecs,
		logger:   logger,
	}
	c.registerHandlers()
	return c, nil
}

func (c *Core) registerHandlers() {
	c.server.OnInvite(c.handleInvite)
	c.server.OnAck(c.handleAck)
	c.server.OnBye(c.handleBye)
	c.server.OnCancel(c.handleCancel)
	c.server.OnOptions(c.handleOptions)
	c.server.OnNoRoute(c.handleNoRoute)
}

// handleNoRoute answers any SIP method this core does not implement
// (REGISTER, INFO, PRACK, SUBSCRIBE, NOTIFY, UPDATE, REFER, MESSAGE, ...)
// with 501 Not Implemented, overriding sipgo's 405 default.
func (c *Core) handleNoRoute(req *sip.Request, tx sip.ServerTransaction) {
	c.logger.Debug("unhandled method received", "method", req.Method.String(), "source", req.Source())
	res := sip.NewResponseFromRequest(req, 501, "Not Implemented", nil)
	if err := tx.Respond(res); err != nil {
		c.logger.Error("failed to respond to unhandled method", "error", err)
	}
}

// Start launches the UDP, TCP, and (if configured) TLS listeners. It
// returns once the listeners are launched; Stop (or context cancellation)
// tears them down.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("sip udp listener starting", "addr", c.cfg.BindAddr)
		if err := c.server.ListenAndServe(ctx, "udp", c.cfg.BindAddr); err != nil {
			c.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Info("sip tcp listener starting", "addr", c.cfg.BindAddr)
		if err := c.server.ListenAndServe(ctx, "tcp", c.cfg.BindAddr); err != nil {
			c.logger.Error("sip tcp listener stopped", "error", err)
		}
	}()

	if c.cfg.TLSAddr != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.TLSCertFile, c.cfg.TLSKeyFile)
		if err != nil {
			c.cancel()
			return fmt.Errorf("b2bua: loading tls certificate: %w", err)
		}
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.logger.Info("sip tls listener starting", "addr", c.cfg.TLSAddr)
			if err := c.server.ListenAndServeTLS(ctx, "tls", c.cfg.TLSAddr, tlsCfg); err != nil {
				c.logger.Error("sip tls listener stopped", "error", err)
			}
		}()
	}

	return nil
}

// Stop cancels all listeners and waits for them to exit.
func (c *Core) Stop() {
	c.logger.Info("stopping b2bua core")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.server.Close()
	c.ua.Close()
	c.logger.Info("b2bua core stopped")
}

// sourceAllowed consults the configured ACL (named "perimeter" by
// convention) for the request's source address. A nil ACL manager
// disables perimeter enforcement (e.g. in unit tests).
func (c *Core) sourceAllowed(req *sip.Request) bool {
	if c.ACLs == nil {
		return true
	}
	host, _, err := net.SplitHostPort(req.Source())
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return c.ACLs.Allowed("perimeter", addr)
}

func callID(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

func fromTag(req *sip.Request) string {
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			return tag
		}
	}
	return ""
}

func toTag(res *sip.Response) string {
	if to := res.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			return tag
		}
	}
	return ""
}
