package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/frigate-gateway/internal/frigate"
	"github.com/taoyao-code/frigate-gateway/internal/metrics"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

const (
	testInstanceID = "frigate_client_id"
	testCamera     = "front_door"
	testEventID    = "1656282822.206673-bovnfg"
	missingID      = "THIS-IS-NOT-A-REAL-INSTANCE-ID"
)

type backendCall struct {
	Op      string
	EventID string
	Retain  bool
	Camera  string
	After   *int64
	Before  *int64
}

// fakeBackend 记录调用并返回预设结果
type fakeBackend struct {
	mu     sync.Mutex
	calls  []backendCall
	result json.RawMessage
	err    error
	block  chan struct{} // 非 nil 时调用阻塞直到关闭或 ctx 取消
}

func (f *fakeBackend) record(ctx context.Context, c backendCall) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	result, err, block := f.result, f.err, f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &frigate.APIError{Op: c.Op, Err: ctx.Err()}
		}
	}
	return result, err
}

func (f *fakeBackend) Retain(ctx context.Context, eventID string, retain bool) (json.RawMessage, error) {
	return f.record(ctx, backendCall{Op: "retain", EventID: eventID, Retain: retain})
}

func (f *fakeBackend) GetRecordings(ctx context.Context, camera string, after, before *int64) (json.RawMessage, error) {
	return f.record(ctx, backendCall{Op: "recordings", Camera: camera, After: after, Before: before})
}

func (f *fakeBackend) GetRecordingsSummary(ctx context.Context, camera string) (json.RawMessage, error) {
	return f.record(ctx, backendCall{Op: "summary", Camera: camera})
}

func (f *fakeBackend) set(result string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = json.RawMessage(result)
	f.err = err
}

func (f *fakeBackend) Calls() []backendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backendCall(nil), f.calls...)
}

// recordingSender 收集回写的消息（已序列化为 JSON 再解码）
type recordingSender struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (r *recordingSender) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) only(t *testing.T) map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.msgs, 1, "exactly one envelope per request")
	return r.msgs[0]
}

func newTestGateway(t *testing.T) (*Gateway, *fakeBackend, *metrics.AppMetrics) {
	t.Helper()
	reg := registry.New()
	backend := &fakeBackend{result: json.RawMessage(`{}`)}
	reg.Register(testInstanceID, backend)
	m := metrics.NewAppMetrics(prometheus.NewRegistry())
	return NewGateway(reg, zap.NewNop(), m), backend, m
}

func handle(t *testing.T, g *Gateway, msg map[string]any) map[string]any {
	t.Helper()
	frame, err := json.Marshal(msg)
	require.NoError(t, err)
	s := &recordingSender{}
	g.Handle(context.Background(), s, frame)
	return s.only(t)
}

func handleRaw(t *testing.T, g *Gateway, frame string) map[string]any {
	t.Helper()
	s := &recordingSender{}
	g.Handle(context.Background(), s, []byte(frame))
	return s.only(t)
}

func errorCode(t *testing.T, resp map[string]any) string {
	t.Helper()
	assert.Equal(t, false, resp["success"])
	e, ok := resp["error"].(map[string]any)
	require.True(t, ok, "error body missing: %v", resp)
	return e["code"].(string)
}

func TestRetainSuccess(t *testing.T) {
	g, backend, m := newTestGateway(t)

	retain := map[string]any{
		"id":          1,
		"type":        TypeRetainEvent,
		"instance_id": testInstanceID,
		"event_id":    testEventID,
		"retain":      true,
	}
	backend.set(`{"retain":"success"}`, nil)
	resp := handle(t, g, retain)
	assert.EqualValues(t, 1, resp["id"])
	assert.Equal(t, "result", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, map[string]any{"retain": "success"}, resp["result"])

	// 再次以 retain=false 调用，结果互不影响
	backend.set(`{"unretain":"success"}`, nil)
	retain["id"] = 2
	retain["retain"] = false
	resp = handle(t, g, retain)
	assert.EqualValues(t, 2, resp["id"])
	assert.Equal(t, map[string]any{"unretain": "success"}, resp["result"])

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, backendCall{Op: "retain", EventID: testEventID, Retain: true}, calls[0])
	assert.Equal(t, backendCall{Op: "retain", EventID: testEventID, Retain: false}, calls[1])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues(TypeRetainEvent, "success")))
}

func TestGetRecordingsSuccess(t *testing.T) {
	g, backend, _ := newTestGateway(t)

	backend.set(`{"recording":"get"}`, nil)
	resp := handle(t, g, map[string]any{
		"id":          2,
		"type":        TypeGetRecordings,
		"instance_id": testInstanceID,
		"camera":      testCamera,
		"after":       1,
		"before":      2,
	})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, map[string]any{"recording": "get"}, resp["result"])

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, testCamera, calls[0].Camera)
	require.NotNil(t, calls[0].After)
	require.NotNil(t, calls[0].Before)
	assert.EqualValues(t, 1, *calls[0].After)
	assert.EqualValues(t, 2, *calls[0].Before)
}

func TestGetRecordingsOptionalBounds(t *testing.T) {
	g, backend, _ := newTestGateway(t)

	resp := handle(t, g, map[string]any{
		"id":          3,
		"type":        TypeGetRecordings,
		"instance_id": testInstanceID,
		"camera":      testCamera,
	})
	assert.Equal(t, true, resp["success"])

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].After)
	assert.Nil(t, calls[0].Before)
}

func TestRecordingsSummarySuccess(t *testing.T) {
	g, backend, _ := newTestGateway(t)

	backend.set(`{"recording":"summary"}`, nil)
	resp := handle(t, g, map[string]any{
		"id":          1,
		"type":        TypeRecordingsSummary,
		"instance_id": testInstanceID,
		"camera":      testCamera,
	})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, map[string]any{"recording": "summary"}, resp["result"])
	assert.Equal(t, []backendCall{{Op: "summary", Camera: testCamera}}, backend.Calls())
}

func TestMissingArgs(t *testing.T) {
	g, backend, m := newTestGateway(t)

	cases := []map[string]any{
		{"id": 1, "type": TypeRetainEvent},
		{"id": 2, "type": TypeRetainEvent, "instance_id": testInstanceID, "event_id": testEventID},
		{"id": 3, "type": TypeGetRecordings, "instance_id": testInstanceID},
		{"id": 4, "type": TypeRecordingsSummary, "camera": testCamera},
	}
	for _, msg := range cases {
		resp := handle(t, g, msg)
		assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
		assert.EqualValues(t, msg["id"], resp["id"])
	}
	assert.Empty(t, backend.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues(TypeRetainEvent, ErrCodeInvalidFormat)))
}

func TestInvalidTypes(t *testing.T) {
	g, backend, _ := newTestGateway(t)

	cases := []map[string]any{
		{"id": 1, "type": TypeRetainEvent, "instance_id": testInstanceID, "event_id": testEventID, "retain": "yes"},
		{"id": 2, "type": TypeGetRecordings, "instance_id": testInstanceID, "camera": testCamera, "after": 1.5},
		{"id": 3, "type": TypeGetRecordings, "instance_id": testInstanceID, "camera": 7},
		{"id": 4, "type": TypeRecordingsSummary, "instance_id": testInstanceID, "camera": testCamera, "extra": true},
		{"id": 5, "type": TypeRecordingsSummary, "INSTANCE_ID": testInstanceID, "Camera": testCamera},
		{"id": 6, "type": TypeRetainEvent, "Instance_Id": testInstanceID, "event_id": testEventID, "retain": true},
	}
	for _, msg := range cases {
		resp := handle(t, g, msg)
		assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp), "msg %v", msg["id"])
	}

	// 大小写变体与正确键同时出现
	resp := handleRaw(t, g, `{"id":7,"type":"frigate/recordings/summary","instance_id":"`+testInstanceID+
		`","INSTANCE_ID":"`+missingID+`","camera":"front_door"}`)
	assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
	assert.EqualValues(t, 7, resp["id"])
	assert.Contains(t, resp["error"].(map[string]any)["message"], "extra keys not allowed @ data['INSTANCE_ID']")

	assert.Empty(t, backend.Calls())
}

func TestHeaderKeysAreCaseSensitive(t *testing.T) {
	g, _, _ := newTestGateway(t)

	resp := handleRaw(t, g, `{"ID":3,"type":"ping"}`)
	assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
	assert.EqualValues(t, 0, resp["id"])

	resp = handleRaw(t, g, `{"id":3,"TYPE":"ping"}`)
	assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
	assert.EqualValues(t, 3, resp["id"])
}

func TestRequiredKeyMessage(t *testing.T) {
	g, _, _ := newTestGateway(t)
	resp := handle(t, g, map[string]any{"id": 1, "type": TypeRecordingsSummary, "instance_id": testInstanceID})
	e := resp["error"].(map[string]any)
	assert.Contains(t, e["message"], "required key not provided @ data['camera']")
}

func TestInstanceNotFound(t *testing.T) {
	g, backend, _ := newTestGateway(t)

	cases := []map[string]any{
		{"id": 1, "type": TypeRetainEvent, "instance_id": missingID, "event_id": testEventID, "retain": true},
		{"id": 2, "type": TypeGetRecordings, "instance_id": missingID, "camera": testCamera},
		{"id": 3, "type": TypeRecordingsSummary, "instance_id": missingID, "camera": testCamera},
	}
	for _, msg := range cases {
		resp := handle(t, g, msg)
		assert.Equal(t, ErrCodeNotFound, errorCode(t, resp))
		e := resp["error"].(map[string]any)
		assert.Equal(t, "Unable to find Frigate instance with ID: "+missingID, e["message"])
	}
	assert.Empty(t, backend.Calls())
}

func TestAPIError(t *testing.T) {
	g, backend, m := newTestGateway(t)
	backend.set(``, &frigate.APIError{Op: "x", StatusCode: 500})

	tests := []struct {
		msg     map[string]any
		message string
	}{
		{
			msg:     map[string]any{"id": 1, "type": TypeRetainEvent, "instance_id": testInstanceID, "event_id": testEventID, "retain": true},
			message: "API error whilst un/retaining event " + testEventID + " for Frigate instance " + testInstanceID,
		},
		{
			msg:     map[string]any{"id": 2, "type": TypeGetRecordings, "instance_id": testInstanceID, "camera": testCamera},
			message: "API error whilst retrieving recordings for camera front_door for Frigate instance " + testInstanceID,
		},
		{
			msg:     map[string]any{"id": 3, "type": TypeRecordingsSummary, "instance_id": testInstanceID, "camera": testCamera},
			message: "API error whilst retrieving recordings summary for camera front_door for Frigate instance " + testInstanceID,
		},
	}
	for _, tt := range tests {
		resp := handle(t, g, tt.msg)
		assert.Equal(t, ErrCodeFrigate, errorCode(t, resp))
		assert.Equal(t, tt.message, resp["error"].(map[string]any)["message"])
	}
	assert.Len(t, backend.Calls(), 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues(TypeGetRecordings, ErrCodeFrigate)))
}

func TestNonAPIErrorStillFrigateError(t *testing.T) {
	g, backend, _ := newTestGateway(t)
	backend.set(``, errors.New("connection reset"))

	resp := handle(t, g, map[string]any{"id": 9, "type": TypeRecordingsSummary, "instance_id": testInstanceID, "camera": testCamera})
	assert.Equal(t, ErrCodeFrigate, errorCode(t, resp))
}

func TestHandle_Envelope(t *testing.T) {
	g, _, _ := newTestGateway(t)

	t.Run("非JSON", func(t *testing.T) {
		s := &recordingSender{}
		g.Handle(context.Background(), s, []byte("not json"))
		resp := s.only(t)
		assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
		assert.EqualValues(t, 0, resp["id"])
	})

	t.Run("缺少id", func(t *testing.T) {
		s := &recordingSender{}
		g.Handle(context.Background(), s, []byte(`{"type":"ping"}`))
		assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, s.only(t)))
	})

	t.Run("缺少type回显id", func(t *testing.T) {
		resp := handle(t, g, map[string]any{"id": 5})
		assert.Equal(t, ErrCodeInvalidFormat, errorCode(t, resp))
		assert.EqualValues(t, 5, resp["id"])
	})

	t.Run("未知命令", func(t *testing.T) {
		resp := handle(t, g, map[string]any{"id": 6, "type": "frigate/unknown"})
		assert.Equal(t, ErrCodeUnknownCommand, errorCode(t, resp))
	})

	t.Run("ping", func(t *testing.T) {
		resp := handle(t, g, map[string]any{"id": 7, "type": TypePing})
		assert.Equal(t, map[string]any{"id": 7.0, "type": "pong"}, resp)
	})
}

func TestRegisterCustomCommand(t *testing.T) {
	g, _, _ := newTestGateway(t)
	g.Register("frigate/custom", func(ctx context.Context, s Sender, id int64, raw []byte) string {
		_ = s.Send(resultMessage(id, json.RawMessage(`"ok"`)))
		return outcomeSuccess
	})

	resp := handle(t, g, map[string]any{"id": 8, "type": "frigate/custom"})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "ok", resp["result"])
}
