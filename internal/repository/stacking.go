package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecomkit/promostack/internal/domain/coupon"
	"github.com/ecomkit/promostack/internal/domain/stacking"
)

const (
	getRuleByKindSQL = `SELECT primary_kind, compatible_kinds, priorities,
			max_combinations, logic, min_cart_amount, max_total_discount
		FROM stacking_rules WHERE primary_kind = $1`

	upsertRuleSQL = `INSERT INTO stacking_rules (
			primary_kind, compatible_kinds, priorities,
			max_combinations, logic, min_cart_amount, max_total_discount
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (primary_kind) DO UPDATE SET
			compatible_kinds = EXCLUDED.compatible_kinds,
			priorities = EXCLUDED.priorities,
			max_combinations = EXCLUDED.max_combinations,
			logic = EXCLUDED.logic,
			min_cart_amount = EXCLUDED.min_cart_amount,
			max_total_discount = EXCLUDED.max_total_discount`
)

var _ stacking.Source = (*StackingRuleRepository)(nil)

// StackingRuleRepository implements stacking.Source backed by PostgreSQL.
type StackingRuleRepository struct {
	pool *pgxpool.Pool
}

// NewStackingRuleRepository returns a StackingRuleRepository using the pool.
func NewStackingRuleRepository(pool *pgxpool.Pool) *StackingRuleRepository {
	return &StackingRuleRepository{pool: pool}
}

// RuleForKind looks up the stacking rule keyed by a primary coupon kind.
// Returns stacking.ErrNoRule when none is configured.
func (r *StackingRuleRepository) RuleForKind(ctx context.Context, kind coupon.Kind) (*stacking.Rule, error) {
	rows, err := r.pool.Query(ctx, getRuleByKindSQL, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying stacking rule for %s: %w", kind, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stacking.ErrNoRule
		}
		return nil, fmt.Errorf("querying stacking rule for %s: %w", kind, err)
	}
	return rule, nil
}

// Upsert inserts or replaces a stacking rule. Used by the seed tool.
func (r *StackingRuleRepository) Upsert(ctx context.Context, rule *stacking.Rule) error {
	priorities, err := json.Marshal(rule.Priorities)
	if err != nil {
		return fmt.Errorf("encoding priorities for %s: %w", rule.PrimaryKind, err)
	}
	_, err = r.pool.Exec(ctx, upsertRuleSQL,
		string(rule.PrimaryKind), kindsToStrings(rule.CompatibleKinds), priorities,
		rule.MaxCombinations, string(rule.Logic), rule.MinCartAmount, rule.MaxTotalDiscount,
	)
	if err != nil {
		return fmt.Errorf("upserting stacking rule for %s: %w", rule.PrimaryKind, err)
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (*stacking.Rule, error) {
	var (
		rule            stacking.Rule
		primaryKind     string
		compatibleKinds []string
		logic           string
		priorities      []byte
	)
	err := row.Scan(
		&primaryKind, &compatibleKinds, &priorities,
		&rule.MaxCombinations, &logic, &rule.MinCartAmount, &rule.MaxTotalDiscount,
	)
	if err != nil {
		return nil, err
	}

	rule.PrimaryKind = coupon.Kind(primaryKind)
	rule.CompatibleKinds = stringsToKinds(compatibleKinds)
	rule.Logic = stacking.Logic(logic)

	if len(priorities) > 0 {
		byKind := make(map[string]int)
		if err := json.Unmarshal(priorities, &byKind); err != nil {
			return nil, fmt.Errorf("decoding priorities: %w", err)
		}
		rule.Priorities = make(map[coupon.Kind]int, len(byKind))
		for k, p := range byKind {
			rule.Priorities[coupon.Kind(k)] = p
		}
	}
	return &rule, nil
}
