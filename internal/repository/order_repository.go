package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/yarntrack/yarn-track-api/internal/models"
)

// IsUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation, optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return false
		}
		return constraint == "" || pqErr.Constraint == constraint
	}
	return false
}

// UniqueSdyNumberConstraint is the index backing Order.sdyNumber uniqueness.
const UniqueSdyNumberConstraint = "idx_orders_sdy_number"

// OrderRepository persists orders, their items and the per-item status
// history. Every mutation spans one transaction: the order write, item
// writes and history appends commit or roll back together.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order, its items with their initial status, and one
// history row per item recording that status for the acting user.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, actorID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	if err := r.createTx(ctx, tx, order, actorID); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) createTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, actorID string) error {
	now := time.Now().UTC()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	const insertOrder = `INSERT INTO orders
	(id, sdy_number, date, party_name, delivery_party, salesperson_id, factory_edit_used, created_at, updated_at)
	VALUES (:id, :sdy_number, :date, :party_name, :delivery_party, :salesperson_id, :factory_edit_used, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertOrder, order); err != nil {
		if IsUniqueViolation(err, "") {
			return err
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		item.Status = models.StatusReceived
		item.CreatedAt = now
		item.UpdatedAt = now

		const insertItem = `INSERT INTO order_items
		(id, order_id, denier, sl_number, quantity, status, created_at, updated_at)
		VALUES (:id, :order_id, :denier, :sl_number, :quantity, :status, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertItem, item); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		if err := insertHistoryTx(ctx, tx, item.ID, models.StatusReceived, actorID, now); err != nil {
			return err
		}
	}
	return nil
}

func insertHistoryTx(ctx context.Context, tx *sqlx.Tx, itemID string, status models.ItemStatus, actorID string, at time.Time) error {
	const insertHistory = `INSERT INTO order_status_history
	(id, order_item_id, status, updated_by, created_at)
	VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, insertHistory, uuid.NewString(), itemID, status, actorID, at); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

type orderRow struct {
	models.Order
	SalesUsername sql.NullString `db:"sales_username"`
}

const orderSelect = `SELECT o.id, o.sdy_number, o.date, o.party_name, o.delivery_party,
       o.salesperson_id, o.factory_edit_used, o.created_at, o.updated_at,
       u.username AS sales_username
	FROM orders o
	LEFT JOIN users u ON u.id = o.salesperson_id`

// GetByID returns the full aggregate: order, salesperson summary, items
// and each item's history newest-first with updater identities.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	if err := r.db.GetContext(ctx, &row, orderSelect+` WHERE o.id = $1`, id); err != nil {
		return nil, err
	}
	order := row.Order
	if row.SalesUsername.Valid {
		order.Salesperson = &models.UserSummary{ID: order.SalespersonID, Username: row.SalesUsername.String}
	}
	if err := r.attachItems(ctx, []*models.Order{&order}); err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns a page of orders matching the filter plus the total count.
// Results are ordered by order date descending and hydrated with items
// and history.
func (r *OrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if filter.SalespersonID != "" {
		args = append(args, filter.SalespersonID)
		conditions = append(conditions, fmt.Sprintf("o.salesperson_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(o.sdy_number) LIKE $%d OR LOWER(o.party_name) LIKE $%d OR LOWER(o.delivery_party) LIKE $%d)", n, n, n))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("o.date >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("o.date <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.status = $%d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM orders o" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := orderSelect + where + fmt.Sprintf(" ORDER BY o.date DESC LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]models.Order, len(rows))
	refs := make([]*models.Order, len(rows))
	for i, row := range rows {
		orders[i] = row.Order
		if row.SalesUsername.Valid {
			orders[i].Salesperson = &models.UserSummary{ID: row.SalespersonID, Username: row.SalesUsername.String}
		}
		refs[i] = &orders[i]
	}
	if err := r.attachItems(ctx, refs); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

type historyRow struct {
	models.OrderStatusHistory
	Username sql.NullString `db:"username"`
}

const historySelect = `SELECT h.id, h.order_item_id, h.status, h.updated_by, h.created_at,
       u.username
	FROM order_status_history h
	LEFT JOIN users u ON u.id = h.updated_by`

func (r *OrderRepository) attachItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = o
	}

	const itemQuery = `SELECT id, order_id, denier, sl_number, quantity, status, created_at, updated_at
	FROM order_items WHERE order_id = ANY($1) ORDER BY created_at ASC`
	var items []models.OrderItem
	if err := r.db.SelectContext(ctx, &items, itemQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}

	itemIndex := make(map[string]*models.OrderItem, len(items))
	for i := range items {
		item := &items[i]
		if parent, ok := index[item.OrderID]; ok {
			parent.Items = append(parent.Items, *item)
			itemIndex[item.ID] = &parent.Items[len(parent.Items)-1]
		}
	}
	if len(itemIndex) == 0 {
		return nil
	}

	itemIDs := make([]string, 0, len(itemIndex))
	for id := range itemIndex {
		itemIDs = append(itemIDs, id)
	}
	historyQuery := historySelect + ` WHERE h.order_item_id = ANY($1) ORDER BY h.created_at DESC`
	var history []historyRow
	if err := r.db.SelectContext(ctx, &history, historyQuery, pq.Array(itemIDs)); err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	for _, row := range history {
		entry := row.OrderStatusHistory
		if row.Username.Valid {
			entry.Updater = &models.UserSummary{ID: entry.UpdatedBy, Username: row.Username.String}
		}
		if item, ok := itemIndex[entry.OrderItemID]; ok {
			item.StatusHistory = append(item.StatusHistory, entry)
		}
	}
	return nil
}

// UpdateFieldsParams groups a guarded order patch.
type UpdateFieldsParams struct {
	ID string
	// Fields maps column names to their new values. The date column is
	// never present; callers enforce its immutability.
	Fields map[string]interface{}
	// ConsumeOneTimeEdit additionally sets factory_edit_used and guards
	// the update on the flag still being clear.
	ConsumeOneTimeEdit bool
}

// UpdateFields applies the patch in one transaction. When the one-time
// flag is being consumed and a concurrent edit already consumed it, the
// update matches no row and sql.ErrNoRows is returned.
func (r *OrderRepository) UpdateFields(ctx context.Context, params UpdateFieldsParams) error {
	if len(params.Fields) == 0 && !params.ConsumeOneTimeEdit {
		return nil
	}

	setParts := make([]string, 0, len(params.Fields)+2)
	args := make([]interface{}, 0, len(params.Fields)+3)
	for column, value := range params.Fields {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if params.ConsumeOneTimeEdit {
		setParts = append(setParts, "factory_edit_used = TRUE")
	}
	args = append(args, time.Now().UTC())
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", len(args)))

	args = append(args, params.ID)
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(setParts, ", "), len(args))
	if params.ConsumeOneTimeEdit {
		query += " AND factory_edit_used = FALSE"
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update order: %w", err)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		if IsUniqueViolation(err, "") {
			return err
		}
		return fmt.Errorf("update order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("check order update rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update order: %w", err)
	}
	return nil
}

// GetItem fetches a single order item.
func (r *OrderRepository) GetItem(ctx context.Context, itemID string) (*models.OrderItem, error) {
	const query = `SELECT id, order_id, denier, sl_number, quantity, status, created_at, updated_at
	FROM order_items WHERE id = $1`
	var item models.OrderItem
	if err := r.db.GetContext(ctx, &item, query, itemID); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItemStatus writes the new status and appends the matching history
// row in the same transaction; both succeed or neither does.
func (r *OrderRepository) UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus, actorID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin item status update: %w", err)
	}
	now := time.Now().UTC()

	const update = `UPDATE order_items SET status = $2, updated_at = $3 WHERE id = $1`
	result, err := tx.ExecContext(ctx, update, itemID, status, now)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update item status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("check item status rows: %w", err)
	}
	if rows == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}

	if err := insertHistoryTx(ctx, tx, itemID, status, actorID, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit item status update: %w", err)
	}
	return nil
}

// ItemHistory returns the item's audit trail newest-first with updater
// identities.
func (r *OrderRepository) ItemHistory(ctx context.Context, itemID string) ([]models.OrderStatusHistory, error) {
	query := historySelect + ` WHERE h.order_item_id = $1 ORDER BY h.created_at DESC`
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, itemID); err != nil {
		return nil, fmt.Errorf("load item history: %w", err)
	}
	history := make([]models.OrderStatusHistory, len(rows))
	for i, row := range rows {
		history[i] = row.OrderStatusHistory
		if row.Username.Valid {
			history[i].Updater = &models.UserSummary{ID: row.UpdatedBy, Username: row.Username.String}
		}
	}
	return history, nil
}

// ExportRows flattens matching orders into one row per item with the
// item's current status and the username of its last status updater.
func (r *OrderRepository) ExportRows(ctx context.Context, filter models.OrderFilter, maxRows int) ([]models.ExportRow, error) {
	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if filter.SalespersonID != "" {
		args = append(args, filter.SalespersonID)
		conditions = append(conditions, fmt.Sprintf("o.salesperson_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(o.sdy_number) LIKE $%d OR LOWER(o.party_name) LIKE $%d OR LOWER(o.delivery_party) LIKE $%d)", n, n, n))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("o.date >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("o.date <= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	if maxRows <= 0 {
		maxRows = 10000
	}

	query := `SELECT o.sdy_number, o.date, o.party_name, o.delivery_party,
       COALESCE(sp.username, '') AS salesperson,
       i.denier, i.sl_number, i.quantity, i.status,
       lu.username AS last_updated_by
	FROM orders o
	JOIN order_items i ON i.order_id = o.id
	LEFT JOIN users sp ON sp.id = o.salesperson_id
	LEFT JOIN LATERAL (
		SELECT u.username
		FROM order_status_history h
		JOIN users u ON u.id = h.updated_by
		WHERE h.order_item_id = i.id
		ORDER BY h.created_at DESC
		LIMIT 1
	) lu ON TRUE` + where + fmt.Sprintf(" ORDER BY o.date DESC, o.sdy_number, i.created_at LIMIT %d", maxRows)

	var rows []models.ExportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("export orders: %w", err)
	}
	return rows, nil
}
