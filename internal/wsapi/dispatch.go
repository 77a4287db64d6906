package wsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/taoyao-code/frigate-gateway/internal/frigate"
	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// 错误信息中使用 json 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// instanceRequest 所有可分发请求都携带目标实例
type instanceRequest interface {
	Instance() string
}

// CommandHandler 处理单条已路由的命令并返回结果标签（成功或错误码）。
// 必须且只能向 s 写一个信封。
type CommandHandler func(ctx context.Context, s Sender, id int64, raw []byte) string

// BackendCall 对解析出的后端执行一次调用
type BackendCall[T instanceRequest] func(ctx context.Context, b registry.Backend, req T) (json.RawMessage, error)

// command 把 校验 -> 查找 -> 调用 -> 信封 的流程参数化；
// describe 生成后端失败时的错误描述。
func command[T instanceRequest](g *Gateway, op string, call BackendCall[T], describe func(T) string) CommandHandler {
	return func(ctx context.Context, s Sender, id int64, raw []byte) string {
		var req T
		if err := decodeStrict(raw, &req); err != nil {
			g.reply(s, errorMessage(id, ErrCodeInvalidFormat, formatError(err)))
			return ErrCodeInvalidFormat
		}

		instanceID := req.Instance()
		backend, ok := g.resolver.Resolve(instanceID)
		if !ok {
			g.reply(s, errorMessage(id, ErrCodeNotFound,
				fmt.Sprintf("Unable to find Frigate instance with ID: %s", instanceID)))
			return ErrCodeNotFound
		}

		result, err := call(ctx, backend, req)
		if err != nil {
			msg := describe(req)
			g.logger.Warn("frigate call failed",
				zap.Int64("msg_id", id),
				zap.String("op", op),
				zap.String("instance_id", instanceID),
				zap.Bool("api_error", frigate.IsAPIError(err)),
				zap.Error(err))
			g.reply(s, errorMessage(id, ErrCodeFrigate, msg))
			return ErrCodeFrigate
		}

		g.reply(s, resultMessage(id, result))
		return outcomeSuccess
	}
}

// decodeStrict 按类型解码并拒绝未知字段，然后执行 required 校验。
// encoding/json 对键名大小写不敏感，因此先按精确键名检查一遍。
func decodeStrict(raw []byte, out any) error {
	if err := checkKeys(raw, reflect.TypeOf(out)); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return validate.Struct(out)
}

var keyCache sync.Map // reflect.Type -> map[string]struct{}

// checkKeys 拒绝不是 t 的 json 字段名（区分大小写）的键
func checkKeys(raw []byte, t reflect.Type) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	allowed := allowedKeys(t)
	for k := range fields {
		if _, ok := allowed[k]; !ok {
			return fmt.Errorf("extra keys not allowed @ data['%s']", k)
		}
	}
	return nil
}

func allowedKeys(t reflect.Type) map[string]struct{} {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v, ok := keyCache.Load(t); ok {
		return v.(map[string]struct{})
	}
	keys := make(map[string]struct{})
	collectKeys(t, keys)
	keyCache.Store(t, keys)
	return keys
}

func collectKeys(t reflect.Type, keys map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, keys)
			continue
		}
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
}

// formatError 生成 invalid_format 的说明文字
func formatError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				parts = append(parts, fmt.Sprintf("required key not provided @ data['%s']", fe.Field()))
			} else {
				parts = append(parts, fmt.Sprintf("invalid value @ data['%s']", fe.Field()))
			}
		}
		return "Message incorrectly formatted: " + strings.Join(parts, ", ")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("Message incorrectly formatted: expected %s @ data['%s']", typeErr.Type, typeErr.Field)
	}
	return "Message incorrectly formatted: " + err.Error()
}
