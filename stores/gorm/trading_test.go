package gorm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

func TestBalanceAdjustments(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	store := NewBalanceStore(db)

	b, err := store.GetBalance("u1")
	require.NoError(t, err)
	assert.Zero(t, b.Points)

	b, err = store.SetBalance("u1", 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.Points)

	b, err = store.AddBalance("u1", -40)
	require.NoError(t, err)
	assert.Equal(t, 60.0, b.Points)

	_, err = store.AddBalance("u1", -61)
	assert.ErrorIs(t, err, ct.ErrInsufficientBalance)
	_, err = store.SetBalance("u1", -1)
	assert.ErrorIs(t, err, ct.ErrInsufficientBalance)

	_, err = store.GetBalance("nobody")
	assert.ErrorIs(t, err, ct.ErrUserNotFound)

	list, total, err := store.ListBalances(ct.Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "alice@example.com", list[0].UserEmail)
	assert.Equal(t, 60.0, list[0].Points)
}

func TestPurchase(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	market := NewMarketStore(db)
	balances := NewBalanceStore(db)
	notes := NewNotificationStore(db)

	credit := &ct.CarbonCredit{CreditType: "VCS", ProjectType: "forestry", Quantity: 10, Price: 12.5, VintageYear: 2022}
	require.NoError(t, market.CreateCarbonCredit(credit))
	_, err := balances.SetBalance("u1", 100)
	require.NoError(t, err)

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := market.Purchase("u1", credit.ID, 0)
		assert.ErrorIs(t, err, ct.ErrInvalidQuantity)
	})

	t.Run("rejects unknown credit", func(t *testing.T) {
		_, err := market.Purchase("u1", "missing", 1)
		assert.ErrorIs(t, err, ct.ErrNotFound)
	})

	t.Run("rejects more than available", func(t *testing.T) {
		_, err := market.Purchase("u1", credit.ID, 11)
		assert.ErrorIs(t, err, ct.ErrInsufficientQuantity)
	})

	t.Run("rejects when balance too low", func(t *testing.T) {
		_, err := market.Purchase("u1", credit.ID, 9)
		assert.ErrorIs(t, err, ct.ErrInsufficientBalance)

		b, err := balances.GetBalance("u1")
		require.NoError(t, err)
		assert.Equal(t, 100.0, b.Points)
	})

	t.Run("debits and records", func(t *testing.T) {
		receipt, err := market.Purchase("u1", credit.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 50.0, receipt.TotalCost)
		assert.Equal(t, 50.0, receipt.NewBalance)
		assert.Equal(t, 12.5, receipt.UnitPrice)

		c, err := market.GetCarbonCredit(credit.ID)
		require.NoError(t, err)
		assert.Equal(t, 6.0, c.Quantity)

		assets, err := market.ListUserAssets("u1")
		require.NoError(t, err)
		require.Len(t, assets, 1)
		assert.Equal(t, receipt.AssetID, assets[0].ID)
		assert.Equal(t, 4.0, assets[0].Quantity)

		trades, err := market.ListUserTrades("u1")
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, ct.TradeStatusCompleted, trades[0].Status)
		assert.Equal(t, credit.ID, trades[0].CreditID)

		list, total, err := notes.ListNotifications("u1", true, ct.Pagination{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Equal(t, "trade", list[0].Type)
	})
}

func TestConcurrentPurchasesCannotOverspend(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	market := NewMarketStore(db)
	balances := NewBalanceStore(db)
	_, err := balances.SetBalance("u1", 100)
	require.NoError(t, err)

	var credits []*ct.CarbonCredit
	for i := 0; i < 4; i++ {
		c := &ct.CarbonCredit{CreditType: "VCS", ProjectType: "solar", Quantity: 1, Price: 40, VintageYear: 2023}
		require.NoError(t, market.CreateCarbonCredit(c))
		credits = append(credits, c)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(credits))
	for i, c := range credits {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = market.Purchase("u1", id, 1)
		}(i, c.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ct.ErrInsufficientBalance)
	}
	assert.Equal(t, 2, succeeded)

	b, err := balances.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, b.Points)

	assets, err := market.ListUserAssets("u1")
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestConcurrentBalanceAddsAreNotLost(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	store := NewBalanceStore(db)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddBalance("u1", 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := store.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.Points)
}

func TestBalanceReadsLockRowOnPostgres(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=test dbname=test sslmode=disable"}),
		&gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var model BalanceModel
	stmt := forUpdate(db).First(&model, "user_id = ?", "u1").Statement
	assert.Contains(t, stmt.SQL.String(), "FOR UPDATE")

	sqliteDB := newTestDB(t)
	stmt = forUpdate(sqliteDB.Session(&gorm.Session{DryRun: true})).First(&model, "user_id = ?", "u1").Statement
	assert.NotContains(t, stmt.SQL.String(), "FOR UPDATE")
}

func TestOrderBookSortsSides(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	market := NewMarketStore(db)

	orders := []*ct.Order{
		{UserID: "u1", OrderType: ct.OrderTypeBuy, Price: 10, Quantity: 1, CreditType: "VCS", VintageYear: 2021},
		{UserID: "u1", OrderType: ct.OrderTypeBuy, Price: 12, Quantity: 1, CreditType: "VCS", VintageYear: 2021},
		{UserID: "u1", OrderType: ct.OrderTypeSell, Price: 15, Quantity: 1, CreditType: "VCS", VintageYear: 2021},
		{UserID: "u1", OrderType: ct.OrderTypeSell, Price: 13, Quantity: 1, CreditType: "VCS", VintageYear: 2021},
		{UserID: "u1", OrderType: ct.OrderTypeSell, Price: 9, Quantity: 1, CreditType: "GS", VintageYear: 2020},
		{UserID: "u1", OrderType: ct.OrderTypeSell, Price: 1, Quantity: 1, CreditType: "VCS", VintageYear: 2021, Status: ct.OrderStatusCancelled},
	}
	for _, o := range orders {
		require.NoError(t, market.CreateOrder(o))
	}

	book, err := market.OrderBook(ct.OrderBookFilter{CreditType: "VCS", VintageYear: 2021})
	require.NoError(t, err)
	require.Len(t, book.BuyOrders, 2)
	require.Len(t, book.SellOrders, 2)
	assert.Equal(t, 12.0, book.BuyOrders[0].Price)
	assert.Equal(t, 13.0, book.SellOrders[0].Price)
	assert.Equal(t, "alice@example.com", book.SellOrders[0].UserEmail)

	mine, err := market.ListUserOrders("u1")
	require.NoError(t, err)
	assert.Len(t, mine, len(orders))
}

func TestNotifications(t *testing.T) {
	db := newTestDB(t)
	store := NewNotificationStore(db)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateNotification(&ct.Notification{UserID: "u1", Title: "hello"}))
	}
	other := &ct.Notification{UserID: "u2", Title: "not yours"}
	require.NoError(t, store.CreateNotification(other))

	list, total, err := store.ListNotifications("u1", false, ct.Pagination{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, list, 2)

	n, err := store.MarkNotificationsRead("u1", []string{list[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.MarkNotificationsRead("u1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, total, err = store.ListNotifications("u1", true, ct.Pagination{})
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, store.DeleteNotification("u1", other.ID), ct.ErrNotFound)
	require.NoError(t, store.DeleteNotification("u1", list[0].ID))
}

func TestErrorLogsFilterResolveAndStats(t *testing.T) {
	db := newTestDB(t)
	admin := createTestUser(t, db, "admin1", "admin@example.com")
	store := NewErrorLogStore(db)

	dur := int64(120)
	uid := admin.ID
	require.NoError(t, store.CreateErrorLog(&ct.ErrorLog{Endpoint: "/api/v1/market/purchase", Method: "POST", StatusCode: 500, ErrorType: "internal", ErrorMessage: "boom", DurationMS: &dur, UserID: &uid}))
	require.NoError(t, store.CreateErrorLog(&ct.ErrorLog{Endpoint: "/api/v1/users/me", Method: "GET", StatusCode: 502, ErrorType: "upstream", ErrorMessage: "bad gateway"}))
	old := &ct.ErrorLog{Endpoint: "/health", Method: "GET", StatusCode: 500, ErrorType: "internal", CreatedAt: time.Now().AddDate(0, 0, -30)}
	require.NoError(t, store.CreateErrorLog(old))

	list, total, err := store.ListErrorLogs(ct.ErrorLogQuery{StatusCode: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 2)

	list, _, err = store.ListErrorLogs(ct.ErrorLogQuery{Endpoint: "purchase"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].User)
	assert.Equal(t, "admin@example.com", list[0].User.Email)

	resolved, err := store.ResolveErrorLog(list[0].ID, admin.ID, "fixed")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedByUser)
	assert.Equal(t, admin.ID, resolved.ResolvedByUser.ID)

	yes := true
	_, total, err = store.ListErrorLogs(ct.ErrorLogQuery{Resolved: &yes})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, err = store.ResolveErrorLog("missing", admin.ID, "")
	assert.ErrorIs(t, err, ct.ErrNotFound)

	stats, err := store.ErrorLogStats(7)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalErrors)
	assert.EqualValues(t, 1, stats.UnresolvedErrors)
	assert.Equal(t, 120.0, stats.AverageRespMS)
	assert.Len(t, stats.ErrorsByType, 2)
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u1", "alice@example.com")
	createTestUser(t, db, "u2", "bob@example.com")
	market := NewMarketStore(db)
	require.NoError(t, market.CreateTrade(&ct.Trade{UserID: "u1", OrderType: ct.OrderTypeBuy, Quantity: 2, Price: 5, Status: ct.TradeStatusCompleted}))
	require.NoError(t, market.CreateTrade(&ct.Trade{UserID: "u2", OrderType: ct.OrderTypeSell, Quantity: 1, Price: 7}))
	require.NoError(t, market.CreateCarbonCredit(&ct.CarbonCredit{CreditType: "VCS", Quantity: 40, Price: 1}))
	_, err := NewBalanceStore(db).SetBalance("u1", 25)
	require.NoError(t, err)

	stats := NewStatsStore(db)
	overview, err := stats.OverviewStats()
	require.NoError(t, err)
	assert.EqualValues(t, 2, overview.TotalUsers)
	assert.EqualValues(t, 2, overview.ActiveUsers)
	assert.EqualValues(t, 2, overview.TotalTrades)
	assert.EqualValues(t, 1, overview.CompletedTrades)
	assert.Equal(t, 25.0, overview.TotalPoints)
	assert.Equal(t, 40.0, overview.TotalCarbonCredits)

	trades, err := stats.TradeStats(7)
	require.NoError(t, err)
	assert.Len(t, trades.DailyTrades, 7)
	assert.Equal(t, 3.0, trades.TotalVolume)
	require.Len(t, trades.ByStatus, 2)
	assert.Equal(t, ct.TradeStatusCompleted, trades.ByStatus[0].Status)
	assert.Equal(t, 10.0, trades.ByStatus[0].TotalValue)

	users, err := stats.UserStats(3)
	require.NoError(t, err)
	assert.Len(t, users.DailyRegistrations, 3)
	assert.EqualValues(t, 2, users.DailyRegistrations[2].Count)
	require.Len(t, users.ByRole, 1)
	assert.EqualValues(t, 2, users.ByRole[0].Count)
}
