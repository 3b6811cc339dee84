package conn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/packstream"
)

// AuthToken is the HELLO/LOGON auth payload; boltdriver.AuthToken values
// are converted to this shape at the facade boundary so this package has
// no dependency on the top-level package (avoiding an import cycle).
type AuthToken map[string]any

// Config configures one physical connection, built per dial attempt from
// the driver's Config plus a resolved target address (spec.md §3
// ConnectionConfig).
type Config struct {
	Address         string // host:port
	Auth            AuthToken
	UserAgent       string
	BoltAgent       map[string]string
	Proposals       [4]Version
	TLS             *tls.Config // nil means plaintext
	ConnectTimeout  time.Duration
	HandshakeTimeout time.Duration
	RoutingContext  map[string]any // nil means no routing context hint on HELLO

	Tracer trace.Tracer
}

// Connection is one physical Bolt connection and its protocol state
// machine. It is not safe for concurrent use by multiple goroutines; the
// pool hands out exclusive ownership of one Connection at a time.
type Connection struct {
	ID      string
	Addr    string
	Version Version

	cfg    Config
	t      transport
	state  State
	defunct bool

	// ServerHints carries the HELLO/LOGON SUCCESS metadata (server,
	// connection_id, hints incl. telemetry.enabled,
	// connection.recv_timeout_seconds) plus the patch_bolt UTC opt-in.
	ServerHints map[string]any
	UTCPatched  bool

	createdAt  time.Time
	lastUsedAt time.Time
}

// Dial opens a TCP (optionally TLS) connection to cfg.Address, performs
// the Bolt handshake, and runs HELLO/LOGON. It returns a Connection in
// state Ready on success.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "dialing %s", cfg.Address)
	}
	var nc net.Conn = raw
	if cfg.TLS != nil {
		nc = tls.Client(raw, cfg.TLS)
	}
	return newConnection(nc, cfg)
}

func newConnection(nc net.Conn, cfg Config) (*Connection, error) {
	t := newNetConnTransport(nc)
	c := &Connection{
		ID:        uuid.NewString(),
		Addr:      cfg.Address,
		cfg:       cfg,
		t:         t,
		state:     Disconnected,
		createdAt: time.Now(),
	}

	if cfg.HandshakeTimeout > 0 {
		_ = t.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	negotiated, err := performHandshake(t, cfg.Proposals)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	c.Version = negotiated
	c.state = Negotiated

	if err := c.authenticate(); err != nil {
		_ = t.Close()
		return nil, err
	}
	_ = t.SetDeadline(time.Time{})
	c.lastUsedAt = time.Now()
	return c, nil
}

// authenticate runs the HELLO/LOGON exchange, splitting auth off HELLO at
// Bolt >= 5.1 per spec.md §4.B.
func (c *Connection) authenticate() error {
	hello := map[string]any{
		"user_agent": c.cfg.UserAgent,
	}
	if c.cfg.RoutingContext != nil {
		hello["routing"] = c.cfg.RoutingContext
	}
	if c.Version.AtLeast(5, 0) {
		hello["bolt_agent"] = toAnyMap(c.cfg.BoltAgent)
	}

	splitAuth := c.Version.AtLeast(5, 1)
	if !splitAuth {
		for k, v := range c.cfg.Auth {
			hello[k] = v
		}
	}

	summary, err := c.sendRequestReceiveSummary(TagHello, []any{hello}, nil)
	if err != nil {
		return err
	}
	c.applyHelloSummary(summary)

	if splitAuth {
		logon := map[string]any{}
		for k, v := range c.cfg.Auth {
			logon[k] = v
		}
		if _, err := c.sendRequestReceiveSummary(TagLogon, []any{logon}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) applyHelloSummary(summary map[string]any) {
	c.ServerHints = summary
	if hints, ok := summary["hints"].(map[string]any); ok {
		if patch, ok := hints["patch_bolt"].([]any); ok {
			for _, p := range patch {
				if s, ok := p.(string); ok && s == "utc" {
					c.UTCPatched = true
				}
			}
		}
	}
	// Bolt >= 5.0 defaults to UTC DateTime tags regardless of hint.
	if c.Version.AtLeast(5, 0) {
		c.UTCPatched = true
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// State returns the connection's current protocol state.
func (c *Connection) State() State { return c.state }

// Defunct reports whether a network or codec error has invalidated this
// connection; defunct connections must be discarded, not pooled.
func (c *Connection) Defunct() bool { return c.defunct }

func (c *Connection) markDefunct(err error) error {
	c.defunct = true
	c.state = Failed
	return err
}

// CreatedAt and LastUsedAt support the pool's lifetime/idle eviction.
func (c *Connection) CreatedAt() time.Time  { return c.createdAt }
func (c *Connection) LastUsedAt() time.Time { return c.lastUsedAt }

// RecordCallback receives each RECORD's raw field list as it streams in.
type RecordCallback func(fields []any) error

// SendRequestReceiveStream writes a framed message and reads responses
// until a terminal SUCCESS/FAILURE/IGNORED, routing any RECORDs to cb (if
// non-nil). It returns the terminal summary's fields (for SUCCESS) or an
// *errs.Error (ServerFailure) for FAILURE.
func (c *Connection) SendRequestReceiveStream(tag byte, fields []any, cb RecordCallback) (map[string]any, error) {
	return c.sendRequestReceiveSummary(tag, fields, cb)
}

func (c *Connection) sendRequestReceiveSummary(tag byte, fields []any, cb RecordCallback) (meta map[string]any, err error) {
	if c.cfg.Tracer != nil {
		var span trace.Span
		_, span = c.cfg.Tracer.Start(context.Background(), "bolt."+tagName(tag),
			trace.WithAttributes(
				attribute.String("bolt.connection_id", c.ID),
				attribute.String("bolt.message", tagName(tag)),
			))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	if err := checkOutbound(c.state, tag); err != nil {
		return nil, err
	}
	if err := c.writeMessage(tag, fields); err != nil {
		return nil, c.markDefunct(err)
	}
	c.lastUsedAt = time.Now()

	for {
		respTag, respFields, err := c.readMessage()
		if err != nil {
			return nil, c.markDefunct(err)
		}
		switch respTag {
		case TagRecord:
			if cb != nil {
				var recFields []any
				if len(respFields) == 1 {
					if l, ok := respFields[0].([]any); ok {
						recFields = l
					}
				}
				if err := cb(recFields); err != nil {
					return nil, err
				}
			}
			continue
		case TagSuccess:
			meta, _ := soleMap(respFields)
			hasMore, _ := meta["has_more"].(bool)
			c.state = nextStateAfterSummary(c.state, tag, hasMore, c.Version.AtLeast(5, 1))
			return meta, nil
		case TagFailure:
			meta, _ := soleMap(respFields)
			c.state = Interrupted
			return meta, errs.Failure(meta)
		case TagIgnored:
			return nil, errs.New(errs.InvalidMessageFormat, "server ignored message tag 0x%02X in state", tag)
		default:
			return nil, c.markDefunct(errs.New(errs.InvalidMessageFormat, "unexpected response tag 0x%02X", respTag))
		}
	}
}

func soleMap(fields []any) (map[string]any, bool) {
	if len(fields) != 1 {
		return map[string]any{}, false
	}
	m, ok := fields[0].(map[string]any)
	if !ok {
		return map[string]any{}, false
	}
	return m, true
}

func (c *Connection) writeMessage(tag byte, fields []any) error {
	enc := packstream.NewEncoder()
	if err := enc.WriteStruct(tag, fields); err != nil {
		return err
	}
	return packstream.NewChunkWriter(c.t).WriteMessage(enc.Bytes())
}

func (c *Connection) readMessage() (byte, []any, error) {
	raw, err := packstream.NewChunkReader(c.t).ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	dec := packstream.NewDecoder(raw, c.UTCPatched)
	v, err := dec.ReadValue()
	if err != nil {
		return 0, nil, err
	}
	s, ok := v.(packstream.Struct)
	if !ok {
		return 0, nil, errs.New(errs.InvalidMessageFormat, "message payload is not a structure")
	}
	return s.Tag, s.Fields, nil
}

// Ping sends RESET and waits for SUCCESS within timeout, used by the pool
// as a cheap liveness check before handing a connection back out.
func (c *Connection) Ping(timeout time.Duration) error {
	if timeout > 0 {
		_ = c.t.SetDeadline(time.Now().Add(timeout))
		defer func() { _ = c.t.SetDeadline(time.Time{}) }()
	}
	_, err := c.sendRequestReceiveSummary(TagReset, nil, nil)
	return err
}

// Terminate closes the connection, sending GOODBYE first if graceful and
// the negotiated version and state allow it, per spec.md §4.B.
func (c *Connection) Terminate(graceful bool) error {
	if graceful && c.Version.AtLeast(3, 0) && c.state != Failed {
		_ = c.writeMessage(TagGoodbye, nil)
	}
	return c.t.Close()
}

// NewFromTransportForTest builds a Connection from an already-established
// net.Conn, bypassing Dial's own dialer. It lets tests (internal/bolttest
// and this package's own tests) drive the handshake/auth path against an
// in-process net.Pipe instead of a real TCP listener.
func NewFromTransportForTest(nc net.Conn, cfg Config) (*Connection, error) {
	return newConnection(nc, cfg)
}
