package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/mitchellh/mapstructure"

	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// ErrUnknownTool is returned by Call for a name the registry does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// Registry maps tool names to invokable tools and their argument shapes.
type Registry struct {
	tools  map[string]tool.InvokableTool
	inputs map[string]reflect.Type
	infos  []*schema.ToolInfo
}

// NewRegistry builds the business tools on top of repo.
func NewRegistry(ctx context.Context, repo model.BusinessRepository) (*Registry, error) {
	if repo == nil {
		return nil, fmt.Errorf("business repository is nil")
	}
	r := &Registry{
		tools:  make(map[string]tool.InvokableTool),
		inputs: make(map[string]reflect.Type),
	}

	entries := []struct {
		tool  tool.InvokableTool
		input any
	}{
		{createGetBusinessProfileTool(repo), GetBusinessProfileInput{}},
		{createListTasksTool(repo), ListTasksInput{}},
		{createCreateTaskTool(repo), CreateTaskInput{}},
		{createCompleteTaskTool(repo), CompleteTaskInput{}},
	}
	for _, e := range entries {
		info, err := e.tool.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		r.tools[info.Name] = e.tool
		r.inputs[info.Name] = reflect.TypeOf(e.input)
		r.infos = append(r.infos, info)
	}
	return r, nil
}

// ToolInfos returns the schemas to bind to a chat model, in registration order.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Call runs a tool with already decoded arguments. Errors come from the tool
// itself (a panic included), from argument normalization, or ErrUnknownTool.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (_ string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", name, p)
		}
	}()

	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	arguments, err := r.normalize(name, args)
	if err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	logx.Debug().Str("tool", name).Str("arguments", arguments).Msg("invoking tool")
	out, err := t.InvokableRun(ctx, arguments)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Invoke runs a tool from the raw JSON a model produced. It never fails:
// errors are rendered as a JSON object the model can read and recover from.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) string {
	if !r.Has(name) {
		// Hallucinated or malformed tool call (e.g. empty name).
		logx.Warn().
			Str("tool_name", name).
			Str("arguments", argumentsJSON).
			Msg("Unknown or invalid tool call; returning fallback result")
		return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name)
	}

	args := map[string]any{}
	if s := strings.TrimSpace(argumentsJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return errorResult(name, fmt.Errorf("arguments are not a JSON object: %w", err))
		}
	}

	out, err := r.Call(ctx, name, args)
	if err != nil {
		logx.Warn().Err(err).Str("tool", name).Msg("tool call failed")
		return errorResult(name, err)
	}
	return out
}

// IsError reports whether a tool result is the error object produced by Invoke.
func IsError(result string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return false
	}
	return probe.Error != ""
}

func errorResult(name string, err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error(), "tool": name})
	return string(b)
}

// normalize weakly decodes args into the tool's input struct, trims strings,
// and re-encodes. Unknown keys are dropped; "3" becomes 3, "true" becomes true.
func (r *Registry) normalize(name string, args map[string]any) (string, error) {
	typ, ok := r.inputs[name]
	if !ok {
		return "{}", nil
	}
	ptr := reflect.New(typ)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           ptr.Interface(),
	})
	if err != nil {
		return "", err
	}
	if err := dec.Decode(args); err != nil {
		return "", err
	}

	trimStrings(ptr.Elem())

	b, err := json.Marshal(ptr.Interface())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func trimStrings(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}
