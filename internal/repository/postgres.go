// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/akulagin/teashop-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Ретраи полезны для Serialization Failure или Deadlocks.
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, phone string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, phone) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, phone,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, phone, phone_verified, xp,
	first_order_discount_used, adhoc_discount_percent, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Phone, &u.PhoneVerified,
		&u.XP, &u.FirstOrderDiscountUsed, &u.AdhocDiscountPercent, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`, login)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetProducts возвращает каталог доступных товаров.
func (r *PostgresRepository) GetProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, price_per_gram, available
		 FROM products
		 WHERE available
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PricePerGram, &p.Available); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetProductsByIDs возвращает товары по списку идентификаторов, включая недоступные:
// решение об исключении позиции принимает калькулятор стоимости.
func (r *PostgresRepository) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, price_per_gram, available
		 FROM products
		 WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products by ids: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PricePerGram, &p.Available); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder сохраняет новый заказ со статусом pending и возвращает его идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return 0, fmt.Errorf("marshal items: %w", err)
	}

	var id int64
	err = r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO orders (user_id, name, email, phone, address, comment, items, total, status, used_first_order_discount)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id`,
			o.UserID, o.Name, o.Email, o.Phone, o.Address, o.Comment,
			items, o.TotalKopecks, string(model.OrderStatusPending), o.UsedFirstOrderDiscount,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	return id, nil
}

const orderColumns = `id, user_id, name, email, phone, address, comment, items, total,
	status, used_first_order_discount, points_awarded, payment_id, payment_status,
	payment_url, receipt_url, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var items []byte
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.Name, &o.Email, &o.Phone, &o.Address, &o.Comment,
		&items, &o.TotalKopecks, &status, &o.UsedFirstOrderDiscount, &o.PointsAwarded,
		&o.PaymentID, &o.PaymentStatus, &o.PaymentURL, &o.ReceiptURL, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}

	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatusIf переводит заказ из статуса from в статус to. Обновление
// условное: применяется только если текущий статус строки всё ещё равен from.
// Возвращает false, если строка уже изменена другим актором.
func (r *PostgresRepository) UpdateOrderStatusIf(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error) {
	var tag pgconn.CommandTag
	err := r.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx,
			`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
			id, string(from), string(to),
		)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SetPaymentInfo сохраняет идентификаторы платёжной сессии заказа.
func (r *PostgresRepository) SetPaymentInfo(ctx context.Context, id int64, paymentID, paymentStatus, paymentURL string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_id = $2, payment_status = $3, payment_url = $4 WHERE id = $1`,
		id, paymentID, paymentStatus, paymentURL,
	)
	if err != nil {
		return fmt.Errorf("set payment info: %w", err)
	}
	return nil
}

// SetPaymentStatus обновляет строку статуса платежа в заказе.
func (r *PostgresRepository) SetPaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2 WHERE id = $1`,
		id, paymentStatus,
	)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

// SaveReceiptURL сохраняет ссылку на фискальный чек, если она ещё не сохранена.
// Возвращает false при повторном сохранении.
func (r *PostgresRepository) SaveReceiptURL(ctx context.Context, id int64, url string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET receipt_url = $2 WHERE id = $1 AND receipt_url IS NULL`,
		id, url,
	)
	if err != nil {
		return false, fmt.Errorf("save receipt url: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AwardPointsOnce начисляет владельцу заказа баллы лояльности: 1 балл за каждый
// полный рубль итоговой суммы. Повторный вызов для того же заказа ничего не
// делает: флаг points_awarded переключается условным обновлением в той же
// транзакции, что и начисление.
func (r *PostgresRepository) AwardPointsOnce(ctx context.Context, orderID int64) (bool, error) {
	awarded := false
	err := r.withRetry(ctx, func() error {
		awarded = false

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var userID *int64
		var totalKopecks int64
		err = tx.QueryRow(ctx,
			`UPDATE orders SET points_awarded = TRUE
			 WHERE id = $1 AND NOT points_awarded AND user_id IS NOT NULL
			 RETURNING user_id, total`,
			orderID,
		).Scan(&userID, &totalKopecks)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Гостевой заказ или баллы уже начислены.
				return tx.Commit(ctx)
			}
			return fmt.Errorf("mark points awarded: %w", err)
		}

		points := totalKopecks / 100
		if _, err := tx.Exec(ctx,
			`UPDATE users SET xp = xp + $2 WHERE id = $1`,
			*userID, points,
		); err != nil {
			return fmt.Errorf("award points: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		awarded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return awarded, nil
}

// SetFirstOrderDiscountUsed выставляет флаг использования скидки первого заказа.
func (r *PostgresRepository) SetFirstOrderDiscountUsed(ctx context.Context, userID int64, used bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET first_order_discount_used = $2 WHERE id = $1`,
		userID, used,
	)
	if err != nil {
		return fmt.Errorf("set first order discount flag: %w", err)
	}
	return nil
}

// ClearAdhocDiscount сбрасывает разовую административную скидку после использования.
func (r *PostgresRepository) ClearAdhocDiscount(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET adhoc_discount_percent = NULL WHERE id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("clear adhoc discount: %w", err)
	}
	return nil
}

// SetAdhocDiscount назначает пользователю разовую административную скидку.
func (r *PostgresRepository) SetAdhocDiscount(ctx context.Context, userID int64, percent int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET adhoc_discount_percent = $2 WHERE id = $1`,
		userID, percent,
	)
	if err != nil {
		return fmt.Errorf("set adhoc discount: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
