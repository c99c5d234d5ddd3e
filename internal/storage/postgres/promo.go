package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promo"
)

const promoColumns = `id, code, description, discount_kind, discount_value,
	minimum_order_amount, maximum_discount_amount, usage_limit, used_count,
	usage_limit_per_user, valid_from, valid_until, status,
	products, categories, brands, users,
	excluded_products, excluded_categories, excluded_brands, excluded_users,
	new_users_only, first_time_purchase, stackable, priority,
	auto_apply, auto_min_items, auto_min_subtotal,
	created_by, updated_by, created_at, updated_at`

const (
	insertPromoSQL = `INSERT INTO promo_codes (` + promoColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	// updatePromoSQL never touches used_count and only applies while the
	// counter still matches the value the new status was computed from.
	updatePromoSQL = `UPDATE promo_codes SET
		code = $2, description = $3, discount_kind = $4, discount_value = $5,
		minimum_order_amount = $6, maximum_discount_amount = $7, usage_limit = $8,
		usage_limit_per_user = $9, valid_from = $10, valid_until = $11, status = $12,
		products = $13, categories = $14, brands = $15, users = $16,
		excluded_products = $17, excluded_categories = $18, excluded_brands = $19, excluded_users = $20,
		new_users_only = $21, first_time_purchase = $22, stackable = $23, priority = $24,
		auto_apply = $25, auto_min_items = $26, auto_min_subtotal = $27,
		updated_by = $28, updated_at = $29
	WHERE id = $1 AND used_count = $30`

	deletePromoSQL = `DELETE FROM promo_codes
	WHERE id = $1 AND used_count = 0
		AND NOT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_id = $1)`

	getPromoSQL       = `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = $1`
	getPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	listAutoApplySQL = `SELECT ` + promoColumns + ` FROM promo_codes
	WHERE auto_apply AND status = 'active'
		AND valid_from <= $1 AND valid_until >= $1
		AND (usage_limit IS NULL OR used_count < usage_limit)
	ORDER BY priority DESC, created_at DESC, code`

	listCodesSQL = `SELECT code FROM promo_codes`

	insertRedemptionSQL = `INSERT INTO promo_redemptions (id, promo_id, user_id, order_id, amount, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	// redeemPromoSQL is the guarded increment: the row only matches while a
	// use is left, so concurrent redemptions can never overshoot the limit.
	redeemPromoSQL = `UPDATE promo_codes SET
		used_count = used_count + 1,
		status = CASE
			WHEN usage_limit IS NOT NULL AND used_count + 1 >= usage_limit THEN 'exhausted'
			ELSE status
		END,
		updated_at = $2
	WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
	RETURNING ` + promoColumns

	expireStaleSQL = `UPDATE promo_codes SET status = 'expired', updated_at = $1
	WHERE valid_until < $1 AND status <> 'expired'`

	countRedemptionsSQL = `SELECT count(*) FROM promo_redemptions WHERE promo_id = $1 AND user_id = $2`
	redeemedSQL         = `SELECT EXISTS (SELECT 1 FROM promo_redemptions WHERE promo_id = $1 AND order_id = $2)`
)

var (
	_ promo.Store   = (*PromoRepository)(nil)
	_ promo.History = (*PromoRepository)(nil)
)

// PromoRepository implements promo.Store and promo.History backed by
// PostgreSQL.
type PromoRepository struct {
	pool DB
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool DB) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// Create inserts p. A duplicate code returns promo.ErrCodeTaken.
func (r *PromoRepository) Create(ctx context.Context, p *promo.Policy) error {
	_, err := r.pool.Exec(ctx, insertPromoSQL, insertArgs(p)...)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return promo.ErrCodeTaken
		}
		return fmt.Errorf("inserting promo %q: %w", p.Code, err)
	}
	return nil
}

// Update writes the administrator-owned fields of p while used_count still
// equals expectedUsed.
func (r *PromoRepository) Update(ctx context.Context, p *promo.Policy, expectedUsed int) (bool, error) {
	t := p.Targeting
	tag, err := r.pool.Exec(ctx, updatePromoSQL,
		p.ID, p.Code, p.Description, string(p.Kind), p.Value,
		p.MinimumOrderAmount, p.MaximumDiscountAmount, p.UsageLimit,
		p.UsageLimitPerUser, p.ValidFrom, p.ValidUntil, string(p.Status),
		ids(t.Products), ids(t.Categories), ids(t.Brands), ids(t.Users),
		ids(t.ExcludedProducts), ids(t.ExcludedCategories), ids(t.ExcludedBrands), ids(t.ExcludedUsers),
		p.NewUsersOnly, p.FirstTimePurchaseOnly, p.Stackable, p.Priority,
		p.AutoApply, p.AutoApplyConditions.MinItems, p.AutoApplyConditions.MinSubtotal,
		p.UpdatedBy, p.UpdatedAt,
		expectedUsed,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return false, promo.ErrCodeTaken
		}
		return false, fmt.Errorf("updating promo %q: %w", p.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a never-redeemed policy.
func (r *PromoRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, deletePromoSQL, id)
	if err != nil {
		return false, fmt.Errorf("deleting promo %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the policy with the given id.
func (r *PromoRepository) Get(ctx context.Context, id string) (*promo.Policy, error) {
	return r.getOne(ctx, getPromoSQL, id)
}

// GetByCode returns the policy with the given normalized code.
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*promo.Policy, error) {
	return r.getOne(ctx, getPromoByCodeSQL, code)
}

func (r *PromoRepository) getOne(ctx context.Context, sql, arg string) (*promo.Policy, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting promo %q: %w", arg, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPolicy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("getting promo %q: %w", arg, err)
	}
	return &p, nil
}

// List returns a page of policies ordered by priority and the total number
// matching f.
func (r *PromoRepository) List(ctx context.Context, f promo.ListFilter) ([]promo.Policy, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.AutoApply != nil {
		args = append(args, *f.AutoApply)
		conds = append(conds, fmt.Sprintf("auto_apply = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql := fmt.Sprintf(`SELECT %s, count(*) OVER() AS total_count FROM promo_codes%s
	ORDER BY priority DESC, created_at DESC, code LIMIT $%d OFFSET $%d`,
		promoColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing promos: %w", err)
	}
	total := 0
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (promo.Policy, error) {
		return scanPolicyRow(row, &total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing promos: %w", err)
	}
	return items, total, nil
}

// ListAutoApply returns the usable auto-apply policies at now.
func (r *PromoRepository) ListAutoApply(ctx context.Context, now time.Time) ([]promo.Policy, error) {
	rows, err := r.pool.Query(ctx, listAutoApplySQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply promos: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanPolicy)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply promos: %w", err)
	}
	return items, nil
}

// Codes returns every stored code.
func (r *PromoRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return codes, nil
}

// Redeem records rd and consumes one use in a single transaction. The audit
// insert goes first so a duplicate order fails before the counter moves.
func (r *PromoRepository) Redeem(ctx context.Context, rd promo.Redemption) (*promo.Policy, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertRedemptionSQL,
		rd.ID, rd.PolicyID, rd.UserID, rd.OrderID, rd.Amount, rd.CreatedAt,
	)
	switch {
	case err == nil:
	case hasCode(err, codeUniqueViolation):
		return nil, promo.ErrAlreadyRedeemed
	case hasCode(err, codeForeignKeyViolation):
		return nil, promo.ErrNotFound
	default:
		return nil, fmt.Errorf("inserting redemption: %w", err)
	}

	rows, err := tx.Query(ctx, redeemPromoSQL, rd.PolicyID, rd.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("redeeming promo %q: %w", rd.PolicyID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPolicy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrUsageLimitReached
		}
		return nil, fmt.Errorf("redeeming promo %q: %w", rd.PolicyID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &p, nil
}

// ExpireStale marks policies past their window as expired.
func (r *PromoRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expireStaleSQL, now)
	if err != nil {
		return 0, fmt.Errorf("expiring promos: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountRedemptions implements promo.History.
func (r *PromoRepository) CountRedemptions(ctx context.Context, policyID, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countRedemptionsSQL, policyID, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions: %w", err)
	}
	return n, nil
}

// Redeemed implements promo.History.
func (r *PromoRepository) Redeemed(ctx context.Context, policyID, orderID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, redeemedSQL, policyID, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking redemption: %w", err)
	}
	return ok, nil
}

func insertArgs(p *promo.Policy) []any {
	t := p.Targeting
	return []any{
		p.ID, p.Code, p.Description, string(p.Kind), p.Value,
		p.MinimumOrderAmount, p.MaximumDiscountAmount, p.UsageLimit, p.UsedCount,
		p.UsageLimitPerUser, p.ValidFrom, p.ValidUntil, string(p.Status),
		ids(t.Products), ids(t.Categories), ids(t.Brands), ids(t.Users),
		ids(t.ExcludedProducts), ids(t.ExcludedCategories), ids(t.ExcludedBrands), ids(t.ExcludedUsers),
		p.NewUsersOnly, p.FirstTimePurchaseOnly, p.Stackable, p.Priority,
		p.AutoApply, p.AutoApplyConditions.MinItems, p.AutoApplyConditions.MinSubtotal,
		p.CreatedBy, p.UpdatedBy, p.CreatedAt, p.UpdatedAt,
	}
}

// ids converts a set for a NOT NULL text[] column.
func ids(s promo.IDSet) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanPolicy(row pgx.CollectableRow) (promo.Policy, error) {
	return scanPolicyRow(row)
}

// scanPolicyRow scans promoColumns followed by any extra selected columns.
func scanPolicyRow(row pgx.Row, extra ...any) (promo.Policy, error) {
	var (
		p                                           promo.Policy
		kind, status                                string
		products, categories, brands, users         []string
		exProducts, exCategories, exBrands, exUsers []string
		maxDiscount, minSubtotal                    *decimal.Decimal
	)
	dest := []any{
		&p.ID, &p.Code, &p.Description, &kind, &p.Value,
		&p.MinimumOrderAmount, &maxDiscount, &p.UsageLimit, &p.UsedCount,
		&p.UsageLimitPerUser, &p.ValidFrom, &p.ValidUntil, &status,
		&products, &categories, &brands, &users,
		&exProducts, &exCategories, &exBrands, &exUsers,
		&p.NewUsersOnly, &p.FirstTimePurchaseOnly, &p.Stackable, &p.Priority,
		&p.AutoApply, &p.AutoApplyConditions.MinItems, &minSubtotal,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return promo.Policy{}, err
	}
	p.Kind = promo.Kind(kind)
	p.Status = promo.Status(status)
	p.MaximumDiscountAmount = maxDiscount
	p.AutoApplyConditions.MinSubtotal = minSubtotal
	p.Targeting = promo.Targeting{
		Products:           products,
		Categories:         categories,
		Brands:             brands,
		Users:              users,
		ExcludedProducts:   exProducts,
		ExcludedCategories: exCategories,
		ExcludedBrands:     exBrands,
		ExcludedUsers:      exUsers,
	}
	return p, nil
}
