// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
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

	"github.com/adsengine/billing-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать учётную запись с уже занятым email.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
)

const accountColumns = `id, email, name, password_hash, role, plan_type, credits_remaining, reseller_id, is_active, created_at`

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

		// Если это не pg-ошибка, но сетевая
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

// CreateAccount создаёт новую учётную запись и возвращает её идентификатор.
func (r *PostgresRepository) CreateAccount(ctx context.Context, acc *model.Account) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role, plan_type, credits_remaining, reseller_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		acc.Email, acc.Name, acc.PasswordHash, string(acc.Role), string(acc.Plan), acc.Credits, acc.ResellerID,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrAccountExists, acc.Email)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var role, plan string
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &role, &plan,
		&a.Credits, &a.ResellerID, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Role = model.Role(role)
	a.Plan = model.Plan(plan)
	return &a, nil
}

// GetAccountByEmail возвращает учётную запись по email.
func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE email = $1`,
		email,
	)
	return scanAccount(row)
}

// GetAccountByID возвращает учётную запись по идентификатору.
func (r *PostgresRepository) GetAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`,
		id,
	)
	return scanAccount(row)
}

// AddCredits атомарно увеличивает остаток кредитов учётной записи и возвращает
// новый остаток. Инкремент выполняется одним выражением, без окна гонки
// чтение-запись.
func (r *PostgresRepository) AddCredits(ctx context.Context, accountID int64, amount int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET credits_remaining = credits_remaining + $1 WHERE id = $2 RETURNING credits_remaining`,
		amount, accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return balance, nil
}

// DeleteAccount удаляет учётную запись.
func (r *PostgresRepository) DeleteAccount(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListCustomers возвращает все клиентские учётные записи, новые первыми.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM users
		 WHERE role = $1
		 ORDER BY created_at DESC`,
		string(model.RoleCustomer),
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ResellerSummary описывает реселлера и количество его клиентов.
type ResellerSummary struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	ClientCount int64     `json:"client_count"`
}

// ListResellers возвращает всех реселлеров с количеством привязанных клиентов.
func (r *PostgresRepository) ListResellers(ctx context.Context) ([]ResellerSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.email, u.created_at, COUNT(c.id) AS client_count
		 FROM users u
		 LEFT JOIN users c ON c.reseller_id = u.id AND c.role = $1
		 WHERE u.role = $2
		 GROUP BY u.id
		 ORDER BY u.created_at DESC`,
		string(model.RoleCustomer), string(model.RoleReseller),
	)
	if err != nil {
		return nil, fmt.Errorf("select resellers: %w", err)
	}
	defer rows.Close()

	var res []ResellerSummary
	for rows.Next() {
		var s ResellerSummary
		if err := rows.Scan(&s.ID, &s.Email, &s.CreatedAt, &s.ClientCount); err != nil {
			return nil, fmt.Errorf("scan reseller: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListClientsOfReseller возвращает клиентов, привязанных к реселлеру.
func (r *PostgresRepository) ListClientsOfReseller(ctx context.Context, resellerID int64) ([]model.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM users
		 WHERE reseller_id = $1 AND role = $2
		 ORDER BY created_at DESC`,
		resellerID, string(model.RoleCustomer),
	)
	if err != nil {
		return nil, fmt.Errorf("select clients: %w", err)
	}
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountCampaigns возвращает общее количество кампаний в системе.
func (r *PostgresRepository) CountCampaigns(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM campaigns`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count campaigns: %w", err)
	}
	return total, nil
}

// CountCampaignsByOwner возвращает количество кампаний учётной записи.
func (r *PostgresRepository) CountCampaignsByOwner(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM campaigns WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count campaigns by owner: %w", err)
	}
	return total, nil
}

// CountCampaignsByReseller возвращает количество кампаний всех клиентов реселлера.
func (r *PostgresRepository) CountCampaignsByReseller(ctx context.Context, resellerID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM campaigns c
		 JOIN users u ON u.id = c.user_id
		 WHERE u.reseller_id = $1`,
		resellerID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count campaigns by reseller: %w", err)
	}
	return total, nil
}

// SumClientCredits возвращает сумму кредитов, соответствующих тарифам клиентов
// реселлера (объём проданных кредитов).
func (r *PostgresRepository) SumClientCredits(ctx context.Context, resellerID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(
		   CASE plan_type
		     WHEN 'starter' THEN 10
		     WHEN 'pro'     THEN 30
		     WHEN 'agency'  THEN 100
		     ELSE 0
		   END
		 ), 0)
		 FROM users
		 WHERE reseller_id = $1 AND role = $2`,
		resellerID, string(model.RoleCustomer),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum client credits: %w", err)
	}
	return total, nil
}

// ListPaymentsByEmail возвращает историю платежей по email, новые первыми.
func (r *PostgresRepository) ListPaymentsByEmail(ctx context.Context, email string, limit int) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, plan, credits, amount, lemon_order_id, created_at
		 FROM payments
		 WHERE email = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		email, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		var plan string
		if err := rows.Scan(&p.ID, &p.Email, &plan, &p.Credits, &p.Amount, &p.OrderID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Plan = model.Plan(plan)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// OrderApplication описывает платёжное событие, применяемое к состоянию учётных записей.
type OrderApplication struct {
	Email        string
	Plan         model.Plan
	Credits      int64
	Amount       int64
	OrderID      *string
	PasswordHash []byte
}

// ApplyOrder применяет платёжное событие одной транзакцией: сначала вставка в
// журнал платежей (она же защита от повторной доставки), затем создание либо
// пополнение учётной записи. Возвращает false без ошибки, если заказ с таким
// идентификатором уже был учтён.
func (r *PostgresRepository) ApplyOrder(ctx context.Context, order OrderApplication) (bool, error) {
	var applied bool
	err := r.withRetry(ctx, func() error {
		var txErr error
		applied, txErr = r.applyOrderTx(ctx, order)
		return txErr
	})
	return applied, err
}

func (r *PostgresRepository) applyOrderTx(ctx context.Context, order OrderApplication) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if order.OrderID != nil {
		tag, err := tx.Exec(ctx,
			`INSERT INTO payments (email, plan, credits, amount, lemon_order_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (email, lemon_order_id) WHERE lemon_order_id IS NOT NULL DO NOTHING`,
			order.Email, string(order.Plan), order.Credits, order.Amount, order.OrderID,
		)
		if err != nil {
			return false, fmt.Errorf("insert payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Повторная доставка того же заказа: кредиты не начисляются.
			if err := tx.Commit(ctx); err != nil {
				return false, fmt.Errorf("commit tx: %w", err)
			}
			return false, nil
		}
	} else {
		_, err := tx.Exec(ctx,
			`INSERT INTO payments (email, plan, credits, amount, lemon_order_id)
			 VALUES ($1, $2, $3, $4, NULL)`,
			order.Email, string(order.Plan), order.Credits, order.Amount,
		)
		if err != nil {
			return false, fmt.Errorf("insert payment: %w", err)
		}
	}

	// Новому покупателю создаётся клиентская учётная запись, существующему —
	// пополняется остаток и обновляется тариф. Пароль и роль существующей
	// записи не затрагиваются, поэтому гонка двух первых доставок на один
	// email безопасно вырождается в пополнение.
	_, err = tx.Exec(ctx,
		`INSERT INTO users (email, password_hash, role, plan_type, credits_remaining)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO UPDATE
		 SET credits_remaining = users.credits_remaining + EXCLUDED.credits_remaining,
		     plan_type = EXCLUDED.plan_type`,
		order.Email, order.PasswordHash, string(model.RoleCustomer), string(order.Plan), order.Credits,
	)
	if err != nil {
		return false, fmt.Errorf("upsert account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}
