package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errUnknownTool = errors.New("未注册的工具")

// decodeArgs parses the model's JSON argument string. Models sometimes
// send an empty string for zero-argument tools; treat that as {}.
func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("参数不是合法的 JSON 对象: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
