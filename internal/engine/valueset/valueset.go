// Package valueset validates field values against config-declared allowed
// sets. Deployments toggle enforcement; when off, violations are logged and
// allowed through so historical data keeps flowing.
package valueset

import (
	"log"
	"strings"

	"pulse/internal/config"
	"pulse/internal/lifecycle"
)

type Service struct {
	Enforce bool
	Sets    map[string]config.ValueSet
	Logger  *log.Logger
}

func FromConfig(cfg *config.Config, logger *log.Logger) Service {
	s := Service{Logger: logger}
	if cfg != nil {
		s.Enforce = cfg.ValueSets.Enforce
		s.Sets = cfg.ValueSets.Sets
	}
	return s
}

// Validate checks value against the set registered for "model.field". Unknown
// fields are a no-op. Multi-value sets take comma-separated input.
func (s Service) Validate(model, field, value string) error {
	def, ok := s.Sets[model+"."+field]
	if !ok {
		return nil
	}
	if def.Nullable && strings.TrimSpace(value) == "" {
		return nil
	}
	values := []string{value}
	if def.Multi {
		values = strings.Split(value, ",")
	}
	var invalid []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !contains(def.Values, v) {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	err := lifecycle.ValueRejectedError{
		Model:   model,
		Field:   field,
		Value:   strings.Join(invalid, ", "),
		Allowed: def.Values,
	}
	if s.Enforce {
		return err
	}
	if s.Logger != nil {
		s.Logger.Printf("valueset: %v", err)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
