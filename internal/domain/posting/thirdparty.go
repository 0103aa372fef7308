package posting

import (
	"context"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/pkg/nit"
)

// partyPlan is what is known about the customer before the transaction starts.
type partyPlan struct {
	taxID     string
	anonymous bool
	enriched  *EnrichedParty
}

// prepareThirdParty runs the enrichment lookup outside the ledger transaction,
// and only for identified customers the ledger does not know yet.
func (e *Engine) prepareThirdParty(ctx context.Context, inv *invoice.Invoice) (partyPlan, error) {
	plan := partyPlan{
		taxID:     inv.Customer.TaxID,
		anonymous: inv.Anonymous(e.cfg.GenericTaxID),
	}
	if plan.taxID == "" {
		plan.taxID = e.cfg.GenericTaxID
	}
	if plan.anonymous || e.enrichment == nil {
		return plan, nil
	}

	existing, err := e.ledger.FindThirdParty(ctx, plan.taxID)
	if err != nil {
		return plan, stepError("third_party", -1, err)
	}
	if existing != nil {
		return plan, nil
	}

	enriched, err := e.enrichment.Lookup(ctx, plan.taxID)
	if err != nil {
		if apperror.Is(err, apperror.CodeConnectionUnavailable) || apperror.Is(err, apperror.CodeLedgerBusy) {
			return plan, err
		}
		e.log.WithContext(ctx).Warnw("enrichment lookup failed, classifying locally",
			"tax_id", plan.taxID, "error", err)
		return plan, nil
	}
	plan.enriched = enriched
	return plan, nil
}

// resolveThirdParty finds or creates the customer inside the transaction and applies
// the email priority: invoice email, then the default email for records without one.
func (e *Engine) resolveThirdParty(ctx context.Context, inv *invoice.Invoice, plan partyPlan) (int64, error) {
	tp, err := e.ledger.FindThirdParty(ctx, plan.taxID)
	if err != nil {
		return 0, stepError("third_party", -1, err)
	}

	if tp == nil {
		tp = &ThirdParty{
			TaxID:  plan.taxID,
			Name:   firstNonEmpty(inv.Customer.Name, enrichedName(plan.enriched), genericName(plan, e.cfg.GenericName), plan.taxID),
			Email:  firstNonEmpty(inv.Customer.Email, enrichedEmail(plan.enriched), e.cfg.DefaultEmail),
			IDType: firstNonEmpty(enrichedIDType(plan.enriched), nit.Classify(plan.taxID)),
		}
		if err := e.ledger.CreateThirdParty(ctx, tp); err != nil {
			return 0, stepError("third_party", -1, err)
		}
		return tp.ID, nil
	}

	var email string
	switch {
	case inv.Customer.Email != "" && inv.Customer.Email != tp.Email:
		email = inv.Customer.Email
	case inv.Customer.Email == "" && tp.Email == "" && e.cfg.DefaultEmail != "":
		email = e.cfg.DefaultEmail
	}
	if email != "" {
		if err := e.ledger.UpdateThirdPartyEmail(ctx, tp.ID, email); err != nil {
			return 0, stepError("third_party_email", -1, err)
		}
	}
	return tp.ID, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func genericName(plan partyPlan, name string) string {
	if plan.anonymous {
		return name
	}
	return ""
}

func enrichedName(p *EnrichedParty) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func enrichedEmail(p *EnrichedParty) string {
	if p == nil {
		return ""
	}
	return p.Email
}

func enrichedIDType(p *EnrichedParty) string {
	if p == nil {
		return ""
	}
	return p.IDType
}
