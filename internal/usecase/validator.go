package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iho/tripledger/internal/domain"
)

// Validator is the admission gate in front of TransactionStore.Append.
// Rules run in a fixed order and stop at the first failure.
type Validator struct {
	store      TransactionStore
	entities   EntityResolver
	currencies domain.CurrencySet
}

// NewValidator creates a Validator. entities may be nil, in which case
// entity references are only checked for shape.
func NewValidator(store TransactionStore, entities EntityResolver, currencies domain.CurrencySet) *Validator {
	return &Validator{
		store:      store,
		entities:   entities,
		currencies: currencies,
	}
}

// Validate runs every rule against a candidate record.
func (v *Validator) Validate(ctx context.Context, t *domain.Transaction) error {
	if err := v.checkStructure(t); err != nil {
		return err
	}

	if err := v.checkReferences(ctx, t); err != nil {
		return err
	}

	if err := domain.ValidateCurrency(t.Currency, v.currencies); err != nil {
		return domain.NewValidationError(domain.RuleCurrency, "currency", err)
	}

	return checkBlobs(t)
}

// ValidateReversal checks a compensating record built by the state engine.
// Its references were admitted with the original, so only the shape is checked.
func (v *Validator) ValidateReversal(t *domain.Transaction) error {
	if err := v.checkStructure(t); err != nil {
		return err
	}
	return checkBlobs(t)
}

func (v *Validator) checkStructure(t *domain.Transaction) error {
	if err := checkRequired(t); err != nil {
		return err
	}

	if err := domain.ValidateAmountSign(t); err != nil {
		return domain.NewValidationError(domain.RuleAmountSign, "amount", err)
	}

	if err := domain.ValidateAmountRange(t.Amount); err != nil {
		return domain.NewValidationError(domain.RuleAmountSign, "amount", err)
	}

	return nil
}

func checkRequired(t *domain.Transaction) error {
	missing := func(field string) error {
		return domain.NewValidationError(domain.RuleRequiredFields, field, domain.ErrMissingField)
	}

	if err := domain.ValidateID(t.ID); err != nil {
		return domain.NewValidationError(domain.RuleRequiredFields, "id", err)
	}

	switch {
	case t.Type == "":
		return missing("type")
	case !t.Type.IsValid():
		return domain.NewValidationError(domain.RuleRequiredFields, "type", fmt.Errorf("%w: %s", domain.ErrUnknownType, t.Type))
	case strings.TrimSpace(t.Currency) == "":
		return missing("currency")
	case strings.TrimSpace(t.Description) == "":
		return missing("description")
	case len(t.Description) > domain.MaxDescriptionLength:
		return domain.NewValidationError(domain.RuleRequiredFields, "description",
			fmt.Errorf("description exceeds %d characters", domain.MaxDescriptionLength))
	case t.Timestamp.IsZero():
		return missing("timestamp")
	case !t.Status.IsValid():
		return domain.NewValidationError(domain.RuleRequiredFields, "status", fmt.Errorf("unknown status %q", t.Status))
	}

	if len(t.RelatedEntities) > domain.MaxRelatedEntities {
		return domain.NewValidationError(domain.RuleRequiredFields, "related_entities",
			fmt.Errorf("at most %d related entities allowed", domain.MaxRelatedEntities))
	}

	for _, ref := range t.RelatedEntities {
		if !ref.Kind.IsValid() {
			return domain.NewValidationError(domain.RuleRequiredFields, "related_entities",
				fmt.Errorf("%w: %q", domain.ErrUnknownEntityKind, ref.Kind))
		}
		if strings.TrimSpace(ref.ID) == "" {
			return missing("related_entities.id")
		}
	}

	if len(t.RelatedTransactions) > MaxRelatedTransactions {
		return domain.NewValidationError(domain.RuleRequiredFields, "related_transactions",
			fmt.Errorf("at most %d related transactions allowed", MaxRelatedTransactions))
	}

	return nil
}

func (v *Validator) checkReferences(ctx context.Context, t *domain.Transaction) error {
	dangling := func(field string, err error) error {
		return domain.NewValidationError(domain.RuleDanglingReference, field, err)
	}

	seenTx := make(map[string]struct{}, len(t.RelatedTransactions))
	for _, id := range t.RelatedTransactions {
		if id == t.ID {
			return dangling("related_transactions", fmt.Errorf("%w: record references itself", domain.ErrDanglingReference))
		}
		if _, dup := seenTx[id]; dup {
			return dangling("related_transactions", fmt.Errorf("%w: %s listed twice", domain.ErrDanglingReference, id))
		}
		seenTx[id] = struct{}{}
	}

	seenRef := make(map[domain.EntityRef]struct{}, len(t.RelatedEntities))
	for _, ref := range t.RelatedEntities {
		if _, dup := seenRef[ref]; dup {
			return dangling("related_entities", fmt.Errorf("%w: %s/%s listed twice", domain.ErrDanglingReference, ref.Kind, ref.ID))
		}
		seenRef[ref] = struct{}{}
	}

	if len(t.RelatedTransactions) > 0 {
		missing, err := v.store.Exists(ctx, t.RelatedTransactions)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return dangling("related_transactions",
				fmt.Errorf("%w: transactions %s", domain.ErrDanglingReference, strings.Join(missing, ", ")))
		}
	}

	if v.entities != nil && len(t.RelatedEntities) > 0 {
		missing, err := v.entities.Missing(ctx, t.RelatedEntities)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			refs := make([]string, 0, len(missing))
			for _, ref := range missing {
				refs = append(refs, string(ref.Kind)+"/"+ref.ID)
			}
			return dangling("related_entities",
				fmt.Errorf("%w: entities %s", domain.ErrDanglingReference, strings.Join(refs, ", ")))
		}
	}

	return nil
}

func checkBlobs(t *domain.Transaction) error {
	blobs := []struct {
		field string
		blob  *domain.Blob
	}{
		{"previous_state", t.PreviousState},
		{"new_state", t.NewState},
		{"metadata", t.Metadata},
	}

	for _, b := range blobs {
		if err := domain.ValidateBlob(b.blob); err != nil {
			rule := domain.RuleBlobFormat
			if errors.Is(err, domain.ErrBlobTooLarge) {
				rule = domain.RuleBlobTooLarge
			}
			return domain.NewValidationError(rule, b.field, err)
		}
	}

	return nil
}
