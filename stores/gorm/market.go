package gorm

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ct "github.com/dennislee928/carbontrade"
)

// MarketStore implements ct.MarketStore using GORM
type MarketStore struct {
	db *gorm.DB
}

func NewMarketStore(db *gorm.DB) *MarketStore {
	return &MarketStore{db: db}
}

// =============================================================================
// Carbon credits
// =============================================================================

func (s *MarketStore) CreateCarbonCredit(credit *ct.CarbonCredit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now()
	}
	return s.db.Create(&CarbonCreditModel{
		ID:          credit.ID,
		CreditType:  credit.CreditType,
		ProjectType: credit.ProjectType,
		Quantity:    credit.Quantity,
		Price:       credit.Price,
		VintageYear: credit.VintageYear,
		Issuer:      credit.Issuer,
		Origin:      credit.Origin,
		CreatedAt:   credit.CreatedAt,
	}).Error
}

func (s *MarketStore) ListCarbonCredits() ([]*ct.CarbonCredit, error) {
	var models []CarbonCreditModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ct.CarbonCredit, len(models))
	for i := range models {
		out[i] = models[i].ToCarbonCredit()
	}
	return out, nil
}

func (s *MarketStore) GetCarbonCredit(id string) (*ct.CarbonCredit, error) {
	var model CarbonCreditModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ct.ErrNotFound
		}
		return nil, err
	}
	return model.ToCarbonCredit(), nil
}

// =============================================================================
// Orders
// =============================================================================

func (s *MarketStore) CreateOrder(order *ct.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = ct.OrderStatusOpen
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	return s.db.Create(&OrderModel{
		ID:          order.ID,
		UserID:      order.UserID,
		OrderType:   order.OrderType,
		Price:       order.Price,
		Quantity:    order.Quantity,
		CreditType:  order.CreditType,
		ProjectType: order.ProjectType,
		VintageYear: order.VintageYear,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
	}).Error
}

func (s *MarketStore) ListUserOrders(userID string) ([]*ct.Order, error) {
	var models []OrderModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ct.Order, len(models))
	for i := range models {
		out[i] = models[i].ToOrder()
	}
	return out, nil
}

type orderRow struct {
	OrderModel
	UserEmail string
}

// OrderBook returns open orders, buys highest price first and sells lowest first
func (s *MarketStore) OrderBook(filter ct.OrderBookFilter) (*ct.OrderBook, error) {
	book := &ct.OrderBook{BuyOrders: []*ct.Order{}, SellOrders: []*ct.Order{}}

	side := func(orderType, order string) ([]*ct.Order, error) {
		q := s.db.Table("orders AS o").
			Select("o.*, u.email AS user_email").
			Joins("LEFT JOIN users u ON u.id = o.user_id").
			Where("o.status = ? AND o.order_type = ?", ct.OrderStatusOpen, orderType)
		if filter.CreditType != "" {
			q = q.Where("o.credit_type = ?", filter.CreditType)
		}
		if filter.ProjectType != "" {
			q = q.Where("o.project_type = ?", filter.ProjectType)
		}
		if filter.VintageYear != 0 {
			q = q.Where("o.vintage_year = ?", filter.VintageYear)
		}
		var rows []orderRow
		if err := q.Order(order).Order("o.created_at ASC").Scan(&rows).Error; err != nil {
			return nil, err
		}
		out := make([]*ct.Order, len(rows))
		for i := range rows {
			o := rows[i].OrderModel.ToOrder()
			o.UserEmail = rows[i].UserEmail
			out[i] = o
		}
		return out, nil
	}

	var err error
	if book.BuyOrders, err = side(ct.OrderTypeBuy, "o.price DESC"); err != nil {
		return nil, err
	}
	if book.SellOrders, err = side(ct.OrderTypeSell, "o.price ASC"); err != nil {
		return nil, err
	}
	return book, nil
}

// =============================================================================
// Trades and assets
// =============================================================================

func (s *MarketStore) CreateTrade(trade *ct.Trade) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Status == "" {
		trade.Status = ct.TradeStatusPending
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	return s.db.Create(tradeToModel(trade)).Error
}

func tradeToModel(t *ct.Trade) *TradeModel {
	return &TradeModel{
		ID:        t.ID,
		UserID:    t.UserID,
		OrderType: t.OrderType,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Status:    t.Status,
		CreditID:  t.CreditID,
		CreatedAt: t.CreatedAt,
	}
}

func (s *MarketStore) ListUserTrades(userID string) ([]*ct.Trade, error) {
	var models []TradeModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ct.Trade, len(models))
	for i := range models {
		out[i] = models[i].ToTrade()
	}
	return out, nil
}

func (s *MarketStore) ListUserAssets(userID string) ([]*ct.Asset, error) {
	var models []AssetModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*ct.Asset, len(models))
	for i := range models {
		out[i] = models[i].ToAsset()
	}
	return out, nil
}

// =============================================================================
// Purchase
// =============================================================================

// Purchase debits the buyer's points and moves quantity units of the credit
// into a new asset. The credit row, balance, asset, trade and notification
// change together or not at all.
func (s *MarketStore) Purchase(userID, creditID string, quantity float64) (*ct.Purchase, error) {
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return nil, ct.ErrInvalidQuantity
	}

	var receipt *ct.Purchase
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var credit CarbonCreditModel
		if err := forUpdate(tx).First(&credit, "id = ?", creditID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ct.ErrNotFound
			}
			return err
		}
		if credit.Quantity < quantity {
			return ct.ErrInsufficientQuantity
		}

		total := quantity * credit.Price
		balance, err := loadBalance(tx, userID)
		if err != nil {
			return err
		}
		if balance.Points < total {
			return ct.ErrInsufficientBalance
		}

		now := time.Now()
		newPoints := balance.Points - total
		if err := tx.Model(&BalanceModel{}).Where("id = ?", balance.ID).
			Updates(map[string]any{"points": newPoints, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&CarbonCreditModel{}).Where("id = ?", credit.ID).
			Update("quantity", credit.Quantity-quantity).Error; err != nil {
			return err
		}

		asset := &AssetModel{
			ID:          uuid.NewString(),
			UserID:      userID,
			CreditType:  credit.CreditType,
			ProjectType: credit.ProjectType,
			Quantity:    quantity,
			VintageYear: credit.VintageYear,
			CreatedAt:   now,
		}
		if err := tx.Create(asset).Error; err != nil {
			return err
		}

		trade := &TradeModel{
			ID:        uuid.NewString(),
			UserID:    userID,
			OrderType: ct.OrderTypeBuy,
			Quantity:  quantity,
			Price:     credit.Price,
			Status:    ct.TradeStatusCompleted,
			CreditID:  credit.ID,
			CreatedAt: now,
		}
		if err := tx.Create(trade).Error; err != nil {
			return err
		}

		note := &NotificationModel{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     "Purchase completed",
			Message:   fmt.Sprintf("You purchased %g %s credits for %.2f points", quantity, credit.CreditType, total),
			Type:      "trade",
			CreatedAt: now,
		}
		if err := tx.Create(note).Error; err != nil {
			return err
		}

		receipt = &ct.Purchase{
			PurchaseID:  trade.ID,
			AssetID:     asset.ID,
			CreditType:  credit.CreditType,
			Quantity:    quantity,
			UnitPrice:   credit.Price,
			TotalCost:   total,
			NewBalance:  newPoints,
			PurchasedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
