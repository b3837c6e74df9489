package carbontrade

import (
	"errors"
	"time"
)

// Order sides
const (
	OrderTypeBuy  = "buy"
	OrderTypeSell = "sell"
)

// Order and trade states
const (
	OrderStatusOpen      = "open"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	TradeStatusPending   = "pending"
	TradeStatusCompleted = "completed"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientQuantity = errors.New("insufficient credit quantity")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination describes one page of a listing
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// NewPagination clamps page and limit to sane values
func NewPagination(page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Pagination{Page: page, Limit: limit}
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.Limit }

// Balance holds a user's spendable points
type Balance struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Points    float64   `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceWithUser is a balance row joined with its owner
type BalanceWithUser struct {
	Balance
	UserEmail  string `json:"user_email"`
	UserName   string `json:"user_name"`
	UserRole   string `json:"user_role"`
	UserStatus string `json:"user_status"`
}

// UserRef is the short user summary embedded in other records
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ErrorLog records a failed request
type ErrorLog struct {
	ID              string     `json:"id"`
	UserID          *string    `json:"user_id"`
	Endpoint        string     `json:"endpoint"`
	Method          string     `json:"method"`
	StatusCode      int        `json:"status_code"`
	ErrorType       string     `json:"error_type"`
	ErrorMessage    string     `json:"error_message"`
	ErrorDetails    *string    `json:"error_details"`
	RequestID       *string    `json:"request_id"`
	IPAddress       *string    `json:"ip_address"`
	UserAgent       *string    `json:"user_agent"`
	DurationMS      *int64     `json:"duration_ms"`
	RequestBody     *string    `json:"request_body"`
	RequestHeaders  *string    `json:"request_headers"`
	ResponseBody    *string    `json:"response_body"`
	StackTrace      *string    `json:"stack_trace"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	ResolvedBy      *string    `json:"resolved_by"`
	ResolutionNotes *string    `json:"resolution_notes"`
	CreatedAt       time.Time  `json:"created_at"`

	User           *UserRef `json:"user,omitempty"`
	ResolvedByUser *UserRef `json:"resolved_by_user,omitempty"`
	Resolved       bool     `json:"resolved"`
}

// ErrorLogQuery filters error log listings
type ErrorLogQuery struct {
	Pagination
	ErrorType  string
	StatusCode int
	Endpoint   string
	UserID     string
	Resolved   *bool
	StartDate  *time.Time
	EndDate    *time.Time
}

type CountByType struct {
	ErrorType string `json:"error_type"`
	Count     int64  `json:"count"`
}

type CountByEndpoint struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

type CountByHour struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// ErrorLogStats summarizes recent errors
type ErrorLogStats struct {
	TotalErrors      int64             `json:"total_errors"`
	TodayErrors      int64             `json:"today_errors"`
	UnresolvedErrors int64             `json:"unresolved_errors"`
	AverageRespMS    float64           `json:"average_response_time_ms"`
	ErrorsByType     []CountByType     `json:"errors_by_type"`
	ErrorsByEndpoint []CountByEndpoint `json:"errors_by_endpoint"`
	ErrorsByHour     []CountByHour     `json:"errors_by_hour"`
}

// CarbonCredit is a tradable lot of credits
type CarbonCredit struct {
	ID          string    `json:"id"`
	CreditType  string    `json:"credit_type"`
	ProjectType string    `json:"project_type"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	VintageYear int       `json:"vintage_year"`
	Issuer      string    `json:"issuer"`
	Origin      string    `json:"origin"`
	CreatedAt   time.Time `json:"created_at"`
}

// Order is a resting buy or sell offer
type Order struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	OrderType   string    `json:"order_type"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	CreditType  string    `json:"credit_type"`
	ProjectType string    `json:"project_type"`
	VintageYear int       `json:"vintage_year"`
	Status      string    `json:"status,omitempty"`
	UserEmail   string    `json:"user_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderBook groups open orders by side, best price first
type OrderBook struct {
	BuyOrders  []*Order `json:"buy_orders"`
	SellOrders []*Order `json:"sell_orders"`
}

type OrderBookFilter struct {
	CreditType  string
	ProjectType string
	VintageYear int
}

// Asset is a user's holding of credits
type Asset struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CreditType  string    `json:"credit_type"`
	ProjectType string    `json:"project_type"`
	Quantity    float64   `json:"quantity"`
	VintageYear int       `json:"vintage_year"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trade is an executed or requested exchange
type Trade struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrderType string    `json:"order_type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	CreditID  string    `json:"credit_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Purchase is the receipt of a direct credit purchase
type Purchase struct {
	PurchaseID  string    `json:"purchase_id"`
	AssetID     string    `json:"asset_id"`
	CreditType  string    `json:"credit_type"`
	Quantity    float64   `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	TotalCost   float64   `json:"total_cost"`
	NewBalance  float64   `json:"new_balance"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// Notification is an in-app message to a user
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type OverviewStats struct {
	TotalUsers         int64   `json:"total_users"`
	ActiveUsers        int64   `json:"active_users"`
	NewUsersToday      int64   `json:"new_users_today"`
	TotalTrades        int64   `json:"total_trades"`
	CompletedTrades    int64   `json:"completed_trades"`
	TradesToday        int64   `json:"trades_today"`
	TotalPoints        float64 `json:"total_points"`
	TotalCarbonCredits float64 `json:"total_carbon_credits"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type TradeStatusCount struct {
	Status     string  `json:"status"`
	Count      int64   `json:"count"`
	TotalValue float64 `json:"total_value"`
}

type TradeStats struct {
	TotalVolume float64            `json:"total_volume"`
	DailyTrades []DailyCount       `json:"daily_trades"`
	ByStatus    []TradeStatusCount `json:"by_status"`
}

type RoleCount struct {
	Role  string `json:"role"`
	Count int64  `json:"count"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type UserStats struct {
	DailyRegistrations []DailyCount  `json:"daily_registrations"`
	ByRole             []RoleCount   `json:"by_role"`
	ByStatus           []StatusCount `json:"by_status"`
}

// BalanceStore manages user point balances
type BalanceStore interface {
	// GetBalance returns the balance, creating an empty one on first access
	GetBalance(userID string) (*Balance, error)
	SetBalance(userID string, points float64) (*Balance, error)
	AddBalance(userID string, delta float64) (*Balance, error)
	ListBalances(p Pagination) ([]*BalanceWithUser, int64, error)
}

// ErrorLogStore persists request failures
type ErrorLogStore interface {
	CreateErrorLog(entry *ErrorLog) error
	GetErrorLog(id string) (*ErrorLog, error)
	ListErrorLogs(q ErrorLogQuery) ([]*ErrorLog, int64, error)
	ResolveErrorLog(id, resolvedBy, notes string) (*ErrorLog, error)
	ErrorLogStats(days int) (*ErrorLogStats, error)
}

// MarketStore manages credits, orders, trades and holdings
type MarketStore interface {
	CreateCarbonCredit(credit *CarbonCredit) error
	ListCarbonCredits() ([]*CarbonCredit, error)
	GetCarbonCredit(id string) (*CarbonCredit, error)

	CreateOrder(order *Order) error
	ListUserOrders(userID string) ([]*Order, error)
	OrderBook(filter OrderBookFilter) (*OrderBook, error)

	CreateTrade(trade *Trade) error
	ListUserTrades(userID string) ([]*Trade, error)
	ListUserAssets(userID string) ([]*Asset, error)

	// Purchase buys quantity units of a credit from the user's balance
	Purchase(userID, creditID string, quantity float64) (*Purchase, error)
}

// NotificationStore manages in-app notifications
type NotificationStore interface {
	CreateNotification(n *Notification) error
	ListNotifications(userID string, unreadOnly bool, p Pagination) ([]*Notification, int64, error)
	// MarkNotificationsRead marks the given ids, or all when ids is empty
	MarkNotificationsRead(userID string, ids []string) (int64, error)
	DeleteNotification(userID, id string) error
}

// StatsStore computes dashboard aggregates
type StatsStore interface {
	OverviewStats() (*OverviewStats, error)
	TradeStats(days int) (*TradeStats, error)
	UserStats(days int) (*UserStats, error)
}
