package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/frigate-gateway/internal/frigate"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

// Gateway 命令分发网关。自身无状态，可被多个连接并发使用。
type Gateway struct {
	resolver registry.Resolver
	logger   *zap.Logger
	metrics  *metrics.AppMetrics

	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewGateway 创建网关并注册 Frigate 命令；m 可为 nil
func NewGateway(resolver registry.Resolver, logger *zap.Logger, m *metrics.AppMetrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		resolver: resolver,
		logger:   logger,
		metrics:  m,
		handlers: make(map[string]CommandHandler),
	}
	g.registerFrigateCommands()
	return g
}

// Register 注册（或替换）命令处理器
func (g *Gateway) Register(cmdType string, h CommandHandler) {
	g.mu.Lock()
	g.handlers[cmdType] = h
	g.mu.Unlock()
}

func (g *Gateway) registerFrigateCommands() {
	g.Register(TypeRetainEvent, command(g, frigate.OpRetain,
		func(ctx context.Context, b registry.Backend, req RetainEventRequest) (json.RawMessage, error) {
			return b.Retain(ctx, *req.EventID, *req.Retain)
		},
		func(req RetainEventRequest) string {
			return fmt.Sprintf("API error whilst un/retaining event %s for Frigate instance %s",
				*req.EventID, req.Instance())
		}))

	g.Register(TypeGetRecordings, command(g, frigate.OpRecordings,
		func(ctx context.Context, b registry.Backend, req GetRecordingsRequest) (json.RawMessage, error) {
			return b.GetRecordings(ctx, *req.Camera, req.After, req.Before)
		},
		func(req GetRecordingsRequest) string {
			return fmt.Sprintf("API error whilst retrieving recordings for camera %s for Frigate instance %s",
				*req.Camera, req.Instance())
		}))

	g.Register(TypeRecordingsSummary, command(g, frigate.OpRecordingsSummary,
		func(ctx context.Context, b registry.Backend, req RecordingsSummaryRequest) (json.RawMessage, error) {
			return b.GetRecordingsSummary(ctx, *req.Camera)
		},
		func(req RecordingsSummaryRequest) string {
			return fmt.Sprintf("API error whilst retrieving recordings summary for camera %s for Frigate instance %s",
				*req.Camera, req.Instance())
		}))
}

// Handle 处理一帧入站消息，保证恰好回写一个信封（ping 回 pong）
func (g *Gateway) Handle(ctx context.Context, s Sender, frame []byte) {
	// 路由字段按精确键名读取，不做大小写折叠
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		g.reply(s, errorMessage(0, ErrCodeInvalidFormat, "Message incorrectly formatted: "+err.Error()))
		g.observe("", ErrCodeInvalidFormat)
		return
	}
	rawID, rawType := fields["id"], fields["type"]

	// id 解析失败时回显 0
	var id int64
	if len(rawID) == 0 || json.Unmarshal(rawID, &id) != nil {
		g.reply(s, errorMessage(0, ErrCodeInvalidFormat,
			"Message incorrectly formatted: expected int for dictionary value @ data['id']"))
		g.observe("", ErrCodeInvalidFormat)
		return
	}
	var msgType string
	if len(rawType) == 0 || json.Unmarshal(rawType, &msgType) != nil {
		g.reply(s, errorMessage(id, ErrCodeInvalidFormat,
			"Message incorrectly formatted: expected str for dictionary value @ data['type']"))
		g.observe("", ErrCodeInvalidFormat)
		return
	}

	if msgType == TypePing {
		g.reply(s, PongMessage{ID: id, Type: typePong})
		return
	}

	g.mu.RLock()
	h, ok := g.handlers[msgType]
	g.mu.RUnlock()
	if !ok {
		g.reply(s, errorMessage(id, ErrCodeUnknownCommand, "Unknown command."))
		g.observe("unknown", ErrCodeUnknownCommand)
		return
	}

	outcome := h(ctx, s, id, frame)
	g.observe(msgType, outcome)
	g.logger.Debug("command handled",
		zap.Int64("msg_id", id),
		zap.String("type", msgType),
		zap.String("result", outcome))
}

func (g *Gateway) reply(s Sender, v any) {
	if err := s.Send(v); err != nil {
		g.logger.Debug("send reply failed", zap.Error(err))
	}
}

func (g *Gateway) observe(msgType, outcome string) {
	if g.metrics == nil {
		return
	}
	if msgType == "" {
		msgType = "invalid"
	}
	g.metrics.CommandTotal.WithLabelValues(msgType, outcome).Inc()
}
