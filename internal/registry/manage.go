package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// Response is the uniform envelope returned by Manage. Exactly one of Data
// and Error is set; Metadata always carries the action and a timestamp.
type Response struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Manage dispatches a named management action. Unknown actions and bad
// parameters come back as failed Responses, never as panics, so a caller
// driving this from user input cannot crash the process.
func (r *Registry) Manage(ctx context.Context, action string, params map[string]any) *Response {
	var (
		data any
		err  error
	)

	switch action {
	case "list":
		data = r.store.List()

	case "test":
		data, err = r.manageTest(ctx, params)

	case "add":
		data, err = r.manageAdd(params)

	case "remove":
		data, err = r.manageRemove(params)

	case "reload":
		err = r.store.Reload()
		if err == nil {
			data = map[string]any{"databases": r.store.Names()}
		}

	case "list_temp":
		data = map[string]any{"temporary": r.Temporaries()}

	case "cleanup_temp":
		var removed []string
		removed, err = r.CleanupTemporaries()
		if err == nil {
			data = map[string]any{"removed": removed}
		}

	case "tables":
		data, err = r.manageTables(ctx, params)

	default:
		err = errs.Newf(errs.ErrKindInvalidInput, "unknown action: %s", action)
	}

	return envelope(action, data, err)
}

func (r *Registry) manageTest(ctx context.Context, params map[string]any) (any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	message, err := r.TestConnection(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "message": message}, nil
}

func (r *Registry) manageAdd(params map[string]any) (any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	raw, ok := params["config"]
	if !ok {
		return nil, errs.New(errs.ErrKindInvalidInput, "missing required parameter: config")
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := r.store.Add(name, cfg); err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "config": cfg.Summarize()}, nil
}

func (r *Registry) manageRemove(params map[string]any) (any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	if err := r.store.Remove(name); err != nil {
		return nil, err
	}
	return map[string]any{"removed": name}, nil
}

func (r *Registry) manageTables(ctx context.Context, params map[string]any) (any, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	tables, err := r.ListTables(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "tables": tables}, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errs.Newf(errs.ErrKindInvalidInput, "missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", errs.Newf(errs.ErrKindInvalidInput, "parameter %s must be a non-empty string", key)
	}
	return s, nil
}

// decodeConfig converts a loosely-typed parameter map into a DatabaseConfig
// through a JSON round trip, matching the on-disk field names exactly.
func decodeConfig(raw any) (config.DatabaseConfig, error) {
	var cfg config.DatabaseConfig
	buf, err := json.Marshal(raw)
	if err != nil {
		return cfg, errs.Wrap(errs.ErrKindInvalidInput, "config parameter is not serializable", err)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return cfg, errs.Wrap(errs.ErrKindInvalidInput, "config parameter has invalid fields", err)
	}
	// A config that does not mention enabled is enabled.
	if m, ok := raw.(map[string]any); ok {
		if _, present := m["enabled"]; !present {
			cfg.Enabled = true
		}
	}
	return cfg, nil
}

func envelope(action string, data any, err error) *Response {
	meta := map[string]any{
		"action":    action,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		kind := errs.ErrKindUnknown
		var e *errs.Error
		if errors.As(err, &e) {
			kind = e.Kind
		}
		meta["error_kind"] = kind.String()
		return &Response{Success: false, Error: err.Error(), Metadata: meta}
	}
	return &Response{Success: true, Data: data, Metadata: meta}
}
