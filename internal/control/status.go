package control

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"keepalive/config"
	"keepalive/internal/orchestrator"
)

// Status is the client-side view of orchestrator.Status.
type Status struct {
	Phase      string
	Checks     uint64
	Config     []config.Field
	Strategies []StrategyStatus
}

type StrategyStatus struct {
	Kind    string
	State   string
	Error   string
	Details map[string]string
}

func encodeStatus(st orchestrator.Status) (*structpb.Struct, error) {
	cfg := make([]any, 0, len(st.Config))
	for _, f := range st.Config {
		cfg = append(cfg, map[string]any{"key": f.Key, "value": f.Value})
	}
	strategies := make([]any, 0, len(st.Strategies))
	for _, s := range st.Strategies {
		details := make(map[string]any, len(s.Details))
		for k, v := range s.Details {
			details[k] = v
		}
		strategies = append(strategies, map[string]any{
			"kind":    string(s.Kind),
			"state":   s.State,
			"error":   s.Error,
			"details": details,
		})
	}
	out, err := structpb.NewStruct(map[string]any{
		"phase":      st.Phase.String(),
		"checks":     float64(st.Checks),
		"config":     cfg,
		"strategies": strategies,
	})
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return out, nil
}

func decodeStatus(s *structpb.Struct) Status {
	fields := s.GetFields()
	out := Status{
		Phase:  fields["phase"].GetStringValue(),
		Checks: uint64(fields["checks"].GetNumberValue()),
	}
	for _, v := range fields["config"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		out.Config = append(out.Config, config.Field{
			Key:   f["key"].GetStringValue(),
			Value: f["value"].GetStringValue(),
		})
	}
	for _, v := range fields["strategies"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		ss := StrategyStatus{
			Kind:  f["kind"].GetStringValue(),
			State: f["state"].GetStringValue(),
			Error: f["error"].GetStringValue(),
		}
		if d := f["details"].GetStructValue().GetFields(); len(d) > 0 {
			ss.Details = make(map[string]string, len(d))
			for k, dv := range d {
				ss.Details[k] = dv.GetStringValue()
			}
		}
		out.Strategies = append(out.Strategies, ss)
	}
	return out
}
