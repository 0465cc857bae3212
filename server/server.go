package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/monitor"
	"github.com/wfunc/planningpoker/network"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/services"
	"github.com/wfunc/planningpoker/session"
	"github.com/wfunc/planningpoker/timer"
)

// DefaultCreateAttempts bounds how many fresh codes room creation tries.
const DefaultCreateAttempts = 5

type Options struct {
	IdleTimeout      time.Duration
	PresenceInterval time.Duration
	SweepInterval    time.Duration
	CreateAttempts   int
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * time.Minute
	}
	if o.PresenceInterval <= 0 {
		o.PresenceInterval = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = o.IdleTimeout / 4
	}
	if o.CreateAttempts <= 0 {
		o.CreateAttempts = DefaultCreateAttempts
	}
	return o
}

type PokerServer struct {
	addr           string
	upgrader       websocket.Upgrader
	engine         *room.Engine
	notifier       session.Subscriber
	reports        *services.ReportService
	sessionManager *session.Manager
	monitor        *monitor.Monitor
	timers         *timer.TimerManager
	opts           Options
	httpServer     *http.Server
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
}

// NewPokerServer wires the websocket and REST surfaces to engine. notifier
// may be nil for a single-client setup; mon may be nil to skip metrics.
func NewPokerServer(addr string, engine *room.Engine, notifier session.Subscriber, mon *monitor.Monitor, opts Options) *PokerServer {
	if mon != nil && notifier != nil {
		notifier = mon.CountDeliveries(notifier)
	}
	s := &PokerServer{
		addr:           addr,
		engine:         engine.WithOrigin("http-" + uuid.New().String()),
		notifier:       notifier,
		sessionManager: session.NewManager(),
		monitor:        mon,
		opts:           opts.withDefaults(),
		timers:         timer.NewTimerManager(0),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.reports = services.NewReportService(s.engine)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

// Start runs the idle sweep and serves HTTP until Shutdown.
func (s *PokerServer) Start() error {
	s.timers.Every("idle-sweep", s.opts.SweepInterval, func() {
		s.SweepIdle(context.Background(), time.Now())
	})

	logger.Log.Infof("Planning poker server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *PokerServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.timers.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *PokerServer) Sessions() *session.Manager {
	return s.sessionManager
}

// SweepIdle removes sessions silent for longer than the idle timeout from
// their rooms and closes them.
func (s *PokerServer) SweepIdle(ctx context.Context, now time.Time) int {
	idle := s.sessionManager.Idle(now, s.opts.IdleTimeout)
	for _, sess := range idle {
		logger.Log.Infof("Session %s idle for %s, closing", sess.GetID(), sess.IdleSince(now).Truncate(time.Second))
		if sess.RoomID() != "" {
			if err := sess.Leave(ctx); err != nil {
				logger.Log.Warnf("Idle session %s failed to leave its room: %v", sess.GetID(), err)
			}
		}
		s.sessionManager.Remove(sess.GetID())
		sess.Close()
	}
	return len(idle)
}

func (s *PokerServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *PokerServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.opts.IdleTimeout)
	sess := session.NewSession(uuid.New().String(), wsConn, s.engine, s.notifier,
		session.WithPresenceInterval(s.opts.PresenceInterval))
	s.sessionManager.Add(sess)
	if s.monitor != nil {
		s.monitor.IncOnlineSessions()
	}

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		if s.monitor != nil {
			s.monitor.DecOnlineSessions()
		}
		sess.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(context.Background(), sess, packet)
		}
	}
}

func (s *PokerServer) handlePacket(ctx context.Context, sess *session.Session, packet *network.Packet) {
	start := time.Now()
	sess.MarkActive()
	if s.monitor != nil {
		s.monitor.IncMessagesReceived()
		defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()
	}

	if err := s.dispatch(ctx, sess, packet); err != nil {
		if errors.Is(err, session.ErrNotOwner) || errors.Is(err, session.ErrNotInRoom) {
			logger.Log.Warnf("Session %s: message %d rejected: %v", sess.GetID(), packet.MsgID, err)
		}
		if sendErr := sess.SendError(packet.MsgID, err); sendErr != nil {
			logger.Log.Debugf("Session %s: failed to send error: %v", sess.GetID(), sendErr)
		}
	}
}

func (s *PokerServer) dispatch(ctx context.Context, sess *session.Session, packet *network.Packet) error {
	var err error
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		err = sess.Heartbeat(ctx)
	case network.MsgTypeCreateRoom:
		var req network.CreateRoomRequest
		if err = decode(packet, &req); err == nil {
			_, err = sess.Create(ctx, req.Name, req.Deck, s.opts.CreateAttempts)
		}
	case network.MsgTypeJoinRoom:
		var req network.JoinRoomRequest
		if err = decode(packet, &req); err == nil {
			_, err = sess.Join(ctx, req.RoomID, req.Name)
		}
	case network.MsgTypeLeaveRoom:
		err = sess.Leave(ctx)
	case network.MsgTypeKick:
		var req network.KickRequest
		if err = decode(packet, &req); err == nil {
			_, err = sess.Kick(ctx, req.Name)
		}
	case network.MsgTypeSetCard:
		var req network.SetCardRequest
		if err = decode(packet, &req); err == nil {
			_, err = sess.SetCard(ctx, req.Card)
		}
	case network.MsgTypeClearCard:
		_, err = sess.ClearCard(ctx)
	case network.MsgTypeToggleReveal:
		_, err = sess.ToggleReveal(ctx)
	case network.MsgTypeReveal:
		_, err = sess.Reveal(ctx)
	case network.MsgTypeHide:
		_, err = sess.Hide(ctx)
	case network.MsgTypeResetRound:
		_, err = sess.ResetRound(ctx)
	case network.MsgTypeUpdateDeck:
		var req network.UpdateDeckRequest
		if err = decode(packet, &req); err == nil {
			labels := req.Labels
			if len(labels) == 0 {
				labels = models.ParseDeck(req.Text)
			}
			_, err = sess.UpdateDeck(ctx, labels)
		}
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		err = fmt.Errorf("%w: unknown message type %d", room.ErrValidation, packet.MsgID)
	}
	return err
}

func decode(packet *network.Packet, v interface{}) error {
	if len(packet.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(packet.Data, v); err != nil {
		return fmt.Errorf("%w: malformed message %d: %v", room.ErrValidation, packet.MsgID, err)
	}
	return nil
}
