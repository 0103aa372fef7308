package posting

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"ledgerbridge/internal/core/security"
	"ledgerbridge/internal/domain/invoice"
)

// ReverseConfig configures payment-code reversal.
type ReverseConfig struct {
	CashMethod   string
	GenericTaxID string
	// MinimalValue: a payment strictly below it triggers reversal. Zero disables the check.
	MinimalValue decimal.Decimal
	// Rule is an optional CEL expression replacing the built-in conditions.
	Rule string
}

// Reverse decision reasons.
const (
	ReasonForced      = "forced"
	ReasonDisabled    = "disabled"
	ReasonSingleCash  = "single_cash_anonymous"
	ReasonLowValue    = "below_minimal_value"
	ReasonRule        = "rule"
	ReasonNoCondition = "no_condition"
)

// ReversePolicy decides whether an invoice's payment codes are reversed.
//
// Precedence: the force flag wins; otherwise nothing happens unless reversal is
// enabled, and then either the single-cash-anonymous or the low-value condition
// is enough. A configured rule replaces those two conditions.
type ReversePolicy struct {
	cfg   ReverseConfig
	flags security.FeatureFlagProvider
	rule  cel.Program
}

// NewReversePolicy compiles the optional rule.
func NewReversePolicy(cfg ReverseConfig, flags security.FeatureFlagProvider) (*ReversePolicy, error) {
	p := &ReversePolicy{cfg: cfg, flags: flags}
	if cfg.Rule == "" {
		return p, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("payments", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("anonymous", cel.BoolType),
		cel.Variable("total", cel.DoubleType),
		cel.Variable("minimal", cel.DoubleType),
		cel.Variable("single_cash", cel.BoolType),
		cel.Variable("below_minimal", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("reverse rule env: %w", err)
	}
	ast, iss := env.Compile(cfg.Rule)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile reverse rule: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("reverse rule must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build reverse rule: %w", err)
	}
	p.rule = prg
	return p, nil
}

// Decide returns whether to reverse and why.
func (p *ReversePolicy) Decide(ctx context.Context, inv *invoice.Invoice) (bool, string, error) {
	if p.flags.IsEnabled(ctx, security.FlagReverseForce) {
		return true, ReasonForced, nil
	}
	if !p.flags.IsEnabled(ctx, security.FlagReverseEnabled) {
		return false, ReasonDisabled, nil
	}

	anonymous := inv.Anonymous(p.cfg.GenericTaxID)
	singleCash := len(inv.Payments) == 1 && inv.Payments[0].MethodCode == p.cfg.CashMethod && anonymous
	belowMinimal := false
	if p.cfg.MinimalValue.IsPositive() {
		for _, pay := range inv.Payments {
			if pay.Amount.LessThan(p.cfg.MinimalValue) {
				belowMinimal = true
				break
			}
		}
	}

	if p.rule != nil {
		payments := make([]map[string]any, 0, len(inv.Payments))
		for _, pay := range inv.Payments {
			payments = append(payments, map[string]any{
				"method": pay.MethodCode,
				"amount": pay.Amount.InexactFloat64(),
			})
		}
		out, _, err := p.rule.ContextEval(ctx, map[string]any{
			"payments":      payments,
			"anonymous":     anonymous,
			"total":         inv.Total().InexactFloat64(),
			"minimal":       p.cfg.MinimalValue.InexactFloat64(),
			"single_cash":   singleCash,
			"below_minimal": belowMinimal,
		})
		if err != nil {
			return false, ReasonRule, fmt.Errorf("evaluate reverse rule: %w", err)
		}
		v, ok := out.Value().(bool)
		if !ok {
			return false, ReasonRule, fmt.Errorf("reverse rule returned %T", out.Value())
		}
		return v, ReasonRule, nil
	}

	switch {
	case singleCash:
		return true, ReasonSingleCash, nil
	case belowMinimal:
		return true, ReasonLowValue, nil
	}
	return false, ReasonNoCondition, nil
}

// NormalizePayments returns a copy of payments with reversed method codes when reverse is set.
func NormalizePayments(payments []invoice.Payment, reverse bool) []invoice.Payment {
	out := make([]invoice.Payment, len(payments))
	copy(out, payments)
	if !reverse {
		return out
	}
	for i := range out {
		out[i].MethodCode = ReverseCode(out[i].MethodCode)
	}
	return out
}

// ReverseCode reverses s rune by rune.
func ReverseCode(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
