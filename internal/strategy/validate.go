// Package strategy validates declarative strategy definitions and evaluates their
// conditions against computed indicator series.
package strategy

import (
	"errors"
	"fmt"

	"github.com/atlas-desktop/strategy-backtester/internal/indicators"
	"github.com/atlas-desktop/strategy-backtester/pkg/types"
)

// Normalize returns s with the main indicator marked as such. Definitions name their
// main indicator by position, so callers need not set isMain themselves.
func Normalize(s types.Strategy) types.Strategy {
	s.MainIndicator.IsMain = true
	return s
}

// Validate checks a strategy definition without touching market data. It returns the
// first problem as a *types.ConfigurationError.
func Validate(s types.Strategy) error {
	if s.MainIndicator.ID == "" {
		return &types.ConfigurationError{Field: "mainIndicator", Reason: "main indicator is required"}
	}
	if !s.MainIndicator.IsMain {
		return &types.ConfigurationError{Field: "mainIndicator.isMain", Reason: "main indicator must have isMain set"}
	}
	if len(s.ConfirmationIndicators) > types.MaxConfirmationIndicators {
		return &types.ConfigurationError{
			Field:  "confirmationIndicators",
			Reason: fmt.Sprintf("at most %d confirmation indicators are allowed, got %d", types.MaxConfirmationIndicators, len(s.ConfirmationIndicators)),
		}
	}

	fields := make(map[string]map[string]bool)
	for i, cfg := range s.Indicators() {
		path := "mainIndicator"
		if i > 0 {
			path = fmt.Sprintf("confirmationIndicators[%d]", i-1)
			if cfg.IsMain {
				return &types.ConfigurationError{Field: path + ".isMain", Reason: "only the main indicator may set isMain"}
			}
		}

		if cfg.ID == "" {
			return &types.ConfigurationError{Field: path + ".id", Reason: "indicator id is required"}
		}
		if _, dup := fields[cfg.ID]; dup {
			return &types.ConfigurationError{Field: path + ".id", Reason: fmt.Sprintf("duplicate indicator id %q", cfg.ID)}
		}
		if !cfg.Timeframe.Valid() {
			return &types.ConfigurationError{Field: path + ".timeframe", Reason: fmt.Sprintf("unsupported timeframe %q", cfg.Timeframe)}
		}

		out, err := indicators.Compute(cfg, nil)
		if err != nil {
			var cfgErr *types.ConfigurationError
			if errors.As(err, &cfgErr) {
				return &types.ConfigurationError{Field: path + "." + cfgErr.Field, Reason: cfgErr.Reason}
			}
			return err
		}

		names := make(map[string]bool)
		for _, name := range out.Fields() {
			names[name] = true
		}
		fields[cfg.ID] = names
	}

	if err := validateConditions("entryConditions", s.EntryConditions, fields); err != nil {
		return err
	}
	if err := validateConditions("exitConditions", s.ExitConditions, fields); err != nil {
		return err
	}

	switch s.Bias {
	case "", types.DirectionLong, types.DirectionShort:
	default:
		return &types.ConfigurationError{Field: "bias", Reason: fmt.Sprintf("unsupported bias %q", s.Bias)}
	}

	return nil
}

func validateConditions(group string, conds []types.StrategyCondition, fields map[string]map[string]bool) error {
	for i, c := range conds {
		path := fmt.Sprintf("%s[%d]", group, i)

		if err := checkReference(path+".indicatorId", c.IndicatorID, c.Field, fields); err != nil {
			return err
		}
		if c.CompareIndicatorID != "" {
			if err := checkReference(path+".compareIndicatorId", c.CompareIndicatorID, c.CompareField, fields); err != nil {
				return err
			}
		} else if c.CompareField != "" {
			return &types.ConfigurationError{Field: path + ".compareField", Reason: "compareField requires compareIndicatorId"}
		}
		if !c.Operator.Valid() {
			return &types.ConfigurationError{Field: path + ".operator", Reason: fmt.Sprintf("unsupported operator %q", c.Operator)}
		}
	}
	return nil
}

func checkReference(path, id, field string, fields map[string]map[string]bool) error {
	names, ok := fields[id]
	if !ok {
		return &types.ConfigurationError{Field: path, Reason: fmt.Sprintf("unknown indicator id %q", id)}
	}
	if field != "" && !names[field] {
		return &types.ConfigurationError{Field: path, Reason: fmt.Sprintf("indicator %q has no field %q", id, field)}
	}
	return nil
}
