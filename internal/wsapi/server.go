package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
)

// Conn 一个客户端长连接。写操作串行化，读循环在 Server.serve 中运行。
type Conn struct {
	ID        string
	Connected time.Time

	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// Send 序列化并写出一条文本消息
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server 将 HTTP 请求升级为 WebSocket 并把每帧交给 Gateway
type Server struct {
	gw       *Gateway
	cfg      cfgpkg.WebSocketConfig
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
	upgrader websocket.Upgrader

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

// NewServer 创建连接服务；m 可为 nil
func NewServer(gw *Gateway, cfg cfgpkg.WebSocketConfig, logger *zap.Logger, m *metrics.AppMetrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		gw:      gw,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 认证在升级之前由中间件完成
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[string]*Conn),
	}
}

// Handle gin 路由入口
func (s *Server) Handle(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP 升级连接并阻塞直到连接关闭
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.baseCtx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := &Conn{
		ID:           uuid.NewString(),
		Connected:    time.Now().UTC(),
		ws:           ws,
		writeTimeout: s.cfg.WriteTimeout,
	}
	if !s.track(conn) {
		_ = ws.Close()
		return
	}
	defer s.untrack(conn)

	s.logger.Info("websocket connected", zap.String("conn_id", conn.ID), zap.String("remote_addr", r.RemoteAddr))
	s.serve(conn)
	s.logger.Info("websocket disconnected", zap.String("conn_id", conn.ID))
}

// serve 读循环：每帧在独立 goroutine 中处理，响应可能乱序返回
func (s *Server) serve(conn *Conn) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		_ = conn.ws.Close()
	}()

	ws := conn.ws
	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	go s.pingLoop(ctx, conn)

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			_ = conn.Send(errorMessage(0, ErrCodeInvalidFormat, "Message incorrectly formatted: expected text frame"))
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("command handler panic", zap.String("conn_id", conn.ID), zap.Any("panic", rec))
					_ = conn.Send(errorMessage(0, ErrCodeUnknown, "Unknown error"))
				}
			}()
			s.gw.Handle(ctx, conn, frame)
		}()
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// track 登记连接；Shutdown 之后返回 false
func (s *Server) track(conn *Conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.conns[conn.ID] = conn
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WSAccepted.Inc()
		s.metrics.WSConnections.Inc()
	}
	return true
}

func (s *Server) untrack(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WSConnections.Dec()
	}
	s.wg.Done()
}

// Count 当前连接数
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown 取消所有在途命令，关闭连接并等待读循环退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
