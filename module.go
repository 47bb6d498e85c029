package durablestreams

import (
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/durable-streams/durable-streams/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func init() {
	caddy.RegisterModule(Handler{})
	httpcaddyfile.RegisterHandlerDirective("durable_streams", parseCaddyfile)
}

// Handler implements the Durable Streams Protocol as a Caddy HTTP handler.
// Storage is always the in-memory store; disk persistence is out of scope.
type Handler struct {
	// LongPollTimeout is the default timeout for long-poll requests.
	LongPollTimeout caddy.Duration `json:"long_poll_timeout,omitempty"`

	// SSEReconnectInterval is how often SSE connections should reconnect.
	SSEReconnectInterval caddy.Duration `json:"sse_reconnect_interval,omitempty"`

	// CursorInterval is the width of the CDN-cache-collapsing cursor bucket.
	CursorInterval caddy.Duration `json:"cursor_interval,omitempty"`

	store    store.Store
	logger   *zap.Logger
	cursor   *cursorComputer
	instance string
}

// CaddyModule returns the Caddy module information
func (Handler) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.durable_streams",
		New: func() caddy.Module { return new(Handler) },
	}
}

// Provision sets up the handler
func (h *Handler) Provision(ctx caddy.Context) error {
	h.logger = ctx.Logger()
	h.instance = uuid.NewString()

	if h.LongPollTimeout == 0 {
		h.LongPollTimeout = caddy.Duration(30 * time.Second)
	}
	if h.SSEReconnectInterval == 0 {
		h.SSEReconnectInterval = caddy.Duration(60 * time.Second)
	}
	if h.CursorInterval == 0 {
		h.CursorInterval = caddy.Duration(defaultCursorInterval)
	}

	h.store = store.NewMemoryStore()
	h.cursor = newCursorComputer(time.Duration(h.CursorInterval))

	h.logger.Info("durable streams handler provisioned",
		zap.String("instance", h.instance),
		zap.Duration("long_poll_timeout", time.Duration(h.LongPollTimeout)),
		zap.Duration("sse_reconnect_interval", time.Duration(h.SSEReconnectInterval)),
		zap.Duration("cursor_interval", time.Duration(h.CursorInterval)))

	return nil
}

// Validate ensures the handler configuration is valid
func (h *Handler) Validate() error {
	return nil
}

// Cleanup releases resources
func (h *Handler) Cleanup() error {
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}

// UnmarshalCaddyfile parses the Caddyfile syntax for durable_streams
//
//	durable_streams {
//	    long_poll_timeout 30s
//	    sse_reconnect_interval 60s
//	    cursor_interval 20s
//	}
func (h *Handler) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		for d.NextBlock(0) {
			switch d.Val() {
			case "long_poll_timeout":
				var val string
				if !d.Args(&val) {
					return d.ArgErr()
				}
				dur, err := caddy.ParseDuration(val)
				if err != nil {
					return d.Errf("invalid duration: %v", err)
				}
				h.LongPollTimeout = caddy.Duration(dur)
			case "sse_reconnect_interval":
				var val string
				if !d.Args(&val) {
					return d.ArgErr()
				}
				dur, err := caddy.ParseDuration(val)
				if err != nil {
					return d.Errf("invalid duration: %v", err)
				}
				h.SSEReconnectInterval = caddy.Duration(dur)
			case "cursor_interval":
				var val string
				if !d.Args(&val) {
					return d.ArgErr()
				}
				dur, err := caddy.ParseDuration(val)
				if err != nil {
					return d.Errf("invalid duration: %v", err)
				}
				h.CursorInterval = caddy.Duration(dur)
			default:
				return d.Errf("unknown subdirective: %s", d.Val())
			}
		}
	}
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var handler Handler
	err := handler.UnmarshalCaddyfile(h.Dispenser)
	return &handler, err
}

// Interface guards
var (
	_ caddy.Provisioner           = (*Handler)(nil)
	_ caddy.Validator             = (*Handler)(nil)
	_ caddy.CleanerUpper          = (*Handler)(nil)
	_ caddyhttp.MiddlewareHandler = (*Handler)(nil)
	_ caddyfile.Unmarshaler       = (*Handler)(nil)
)
