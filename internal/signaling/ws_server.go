package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/room"
)

const wsWriteWait = 1 * time.Second

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueLength      = 256
)

type WebSocketConfig struct {
	Hub     *Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is checked against the Origin header on upgrade. Empty
	// means same host only; "*" allows any origin.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueueLength bounds the messages buffered for one connection. A
	// connection that falls this far behind is closed.
	SendQueueLength int

	Clock ratelimit.Clock
}

// WebSocketServer accepts signaling connections and feeds their events into
// a Hub.
type WebSocketServer struct {
	cfg      WebSocketConfig
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg WebSocketConfig) *WebSocketServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = min(defaultPingInterval, cfg.IdleTimeout/2)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = defaultSendQueueLength
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}

	s := &WebSocketServer{cfg: cfg, log: cfg.Logger, origins: origin.NewPolicy(cfg.AllowedOrigins)}
	s.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		_, ok := s.origins.Check(r)
		return ok
	}}
	return s
}

func (s *WebSocketServer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /signal", s)
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}

	p := newWSPeer(room.NewConnID(), conn, s.cfg.SendQueueLength, s.cfg.Metrics)
	log := s.log.With(slog.String("conn_id", p.id.String()))

	go p.writePump(s.cfg.PingInterval)
	defer p.wait()

	if err := s.cfg.Hub.Attach(p.id, p); err != nil {
		s.cfg.Metrics.Inc(metrics.WSRejectedShutdown)
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.cfg.Metrics.Inc(metrics.WSAccepted)
	log.Debug("signaling connection opened", slog.String("remote_addr", r.RemoteAddr))

	defer func() {
		s.cfg.Hub.Disconnect(p.id)
		p.closeWith(0, "")
		log.Debug("signaling connection closed")
	}()

	s.readLoop(p, log)
}

func (s *WebSocketServer) readLoop(p *wsPeer, log *slog.Logger) {
	conn := p.conn
	idle := s.cfg.IdleTimeout
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	limiter := ratelimit.NewPerSecond(s.cfg.Clock, s.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig.
				s.cfg.Metrics.Inc(metrics.MessageTooLarge)
			case isTimeout(err):
				s.cfg.Metrics.Inc(metrics.WSIdleTimeout)
				p.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("signaling read failed", slog.Any("err", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		// Rate limit after reading so the frame is drained from the socket
		// and the client reliably sees the close frame.
		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.RateLimited)
			p.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.cfg.Metrics.Inc(metrics.BadMessage)
			p.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		ev, err := ParseInbound(data)
		if err != nil {
			s.cfg.Metrics.Inc(metrics.BadMessage)
			p.Send(ErrorMessage{Code: "bad_message", Message: err.Error()})
			continue
		}
		if err := s.cfg.Hub.Dispatch(p.id, ev); err != nil && !errors.Is(err, ErrParticipantTaken) {
			log.Warn("signaling dispatch failed", slog.Any("err", err))
		}
	}
}

// wsPeer queues encoded frames for a single writer goroutine.
type wsPeer struct {
	id      room.ConnID
	conn    *websocket.Conn
	metrics *metrics.Metrics

	queue chan []byte
	done  chan struct{}
	// exited is closed when the write pump has closed the connection.
	exited chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newWSPeer(id room.ConnID, conn *websocket.Conn, queueLen int, m *metrics.Metrics) *wsPeer {
	return &wsPeer{
		id:      id,
		conn:    conn,
		metrics: m,
		queue:   make(chan []byte, queueLen),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Send never blocks. A peer whose queue is full is closed.
func (p *wsPeer) Send(msg Outbound) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- data:
	default:
		p.metrics.Inc(metrics.SlowConsumer)
		p.closeWith(websocket.ClosePolicyViolation, "send queue full")
	}
}

func (p *wsPeer) Close() {
	p.closeWith(websocket.CloseGoingAway, "server shutting down")
}

// fail queues an error message and then closes with code.
func (p *wsPeer) fail(code, message string, closeCode int, closeReason string) {
	p.Send(ErrorMessage{Code: code, Message: message})
	p.closeWith(closeCode, closeReason)
}

// closeWith asks the write pump to flush, send a close frame (unless code is
// zero) and close the connection. Only the first call has any effect.
func (p *wsPeer) closeWith(code int, reason string) {
	p.closeOnce.Do(func() {
		p.closeCode = code
		p.closeReason = reason
		close(p.done)
	})
}

func (p *wsPeer) wait() { <-p.exited }

func (p *wsPeer) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
		close(p.exited)
	}()

	for {
		select {
		case data := <-p.queue:
			if err := p.write(data); err != nil {
				p.closeWith(0, "")
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				p.closeWith(0, "")
				return
			}
		case <-p.done:
			p.flush()
			if p.closeCode != 0 {
				_ = p.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(p.closeCode, p.closeReason),
					time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

func (p *wsPeer) flush() {
	for {
		select {
		case data := <-p.queue:
			if err := p.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) write(data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
