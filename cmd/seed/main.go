// Command seed loads a customer and a sample order history into the ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderledger/internal/config"
	"orderledger/internal/database"
	"orderledger/internal/events"
	"orderledger/internal/logger"
	"orderledger/internal/model"
	"orderledger/internal/mw"
	"orderledger/internal/service"
	"orderledger/internal/store"
	"orderledger/internal/store/memory"
	"orderledger/internal/store/postgres"
)

type sampleOrder struct {
	orderedAt     time.Time
	quantity      int
	status        model.OrderStatus
	paymentStatus model.PaymentStatus
	received      bool
	notes         string
	paymentMethod string
	advancePaid   int64
}

var sampleOrders = []sampleOrder{
	{time.Date(2024, time.January, 15, 10, 30, 0, 0, time.UTC), 5, model.StatusDelivered, model.PaymentCompleted, true, "Delivered on time", "Online", 175},
	{time.Date(2024, time.January, 22, 14, 15, 0, 0, time.UTC), 3, model.StatusDelivered, model.PaymentCompleted, true, "Regular order", "Cash", 100},
	{time.Date(2024, time.February, 1, 9, 45, 0, 0, time.UTC), 8, model.StatusReady, model.PaymentPartial, false, "Large order - ready for delivery", "Online", 200},
	{time.Date(2024, time.February, 5, 16, 20, 0, 0, time.UTC), 2, model.StatusInProduction, model.PaymentPending, false, "Small order in production", "Cash", 0},
	{time.Date(2024, time.February, 8, 11, 30, 0, 0, time.UTC), 6, model.StatusConfirmed, model.PaymentPending, false, "Confirmed order", "Online", 0},
	{time.Date(2024, time.February, 10, 13, 45, 0, 0, time.UTC), 4, model.StatusPending, model.PaymentPending, false, "New order just placed", "Cash", 0},
}

type summary struct {
	// Skipped is set when the customer already had orders and nothing was written.
	Skipped     bool
	Orders      int
	Total       decimal.Decimal
	AdvancePaid decimal.Decimal
	Balance     decimal.Decimal
}

func main() {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	customerID := fs.String("customer", "nishant", "customer id to seed")
	username := fs.String("username", "nishant", "customer display name")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	l, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = l.Sync() }()

	ctx := context.Background()

	var st store.Store
	if cfg.StoreDriver == "memory" {
		st = memory.New()
	} else {
		pool, err := database.NewPool(ctx, cfg.DatabaseURI, l)
		if err != nil {
			l.Fatal("failed to connect to db", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(cfg.DatabaseURI, l); err != nil {
			l.Fatal("failed to migrate", zap.Error(err))
		}
		st = postgres.New(pool, l)
	}

	balanceSvc := service.NewBalanceService(st, events.Nop{}, nil, l)
	sum, err := seed(ctx, st, balanceSvc, *customerID, *username)
	if err != nil {
		l.Fatal("seed failed", zap.Error(err))
	}

	if sum.Skipped {
		l.Info("customer already has orders, nothing seeded",
			zap.String("customer_id", *customerID),
			zap.Int("orders", sum.Orders),
		)
	} else {
		l.Info("sample orders added",
			zap.String("customer_id", *customerID),
			zap.Int("orders", sum.Orders),
			zap.String("total", sum.Total.String()),
			zap.String("advance_paid", sum.AdvancePaid.String()),
			zap.String("balance", sum.Balance.String()),
		)
	}

	token, err := mw.IssueToken(cfg.JWTSecret, *customerID, 24*time.Hour)
	if err != nil {
		l.Fatal("failed to issue token", zap.Error(err))
	}
	fmt.Println(token)
}

func seed(ctx context.Context, st store.Store, balanceSvc *service.BalanceService, customerID, username string) (summary, error) {
	c, err := st.GetCustomer(ctx, customerID)
	switch {
	case errors.Is(err, store.ErrCustomerNotFound):
		c = model.Customer{ID: customerID, Username: username}
		if err := st.UpsertCustomer(ctx, c); err != nil {
			return summary{}, fmt.Errorf("create customer: %w", err)
		}
	case err != nil:
		return summary{}, fmt.Errorf("load customer: %w", err)
	}

	existing, err := st.ListOrders(ctx, store.Filter{CustomerID: customerID})
	if err != nil {
		return summary{}, fmt.Errorf("list orders: %w", err)
	}
	if len(existing) > 0 {
		return summary{Skipped: true, Orders: len(existing), Balance: c.Balance, AdvancePaid: c.AdvancePaid}, nil
	}

	sum := summary{Total: decimal.Zero, AdvancePaid: decimal.Zero}
	for _, s := range sampleOrders {
		o, err := model.NewOrder(customerID, model.OrderInput{
			Quantity:      s.quantity,
			PaymentMethod: s.paymentMethod,
			AdvancePaid:   decimal.NewFromInt(s.advancePaid),
			Notes:         s.notes,
		})
		if err != nil {
			return summary{}, err
		}
		o.OrderedAt = s.orderedAt
		o.Status = s.status
		o.PaymentStatus = s.paymentStatus
		o.Received = s.received

		if _, err := st.ImportOrder(ctx, &o); err != nil {
			return summary{}, fmt.Errorf("import order: %w", err)
		}
		if sum.Balance, err = balanceSvc.ApplyOrderToBalance(ctx, customerID, o.ID, o.TotalAmount); err != nil {
			return summary{}, err
		}

		sum.Orders++
		sum.Total = sum.Total.Add(o.TotalAmount)
		sum.AdvancePaid = sum.AdvancePaid.Add(o.AdvancePaid)
	}

	if _, err := st.AddAdvancePaid(ctx, customerID, sum.AdvancePaid); err != nil {
		return summary{}, fmt.Errorf("update advance paid: %w", err)
	}
	return sum, nil
}
