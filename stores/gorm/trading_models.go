package gorm

import (
	"time"

	ct "github.com/dennislee928/carbontrade"
)

// BalanceModel stores a user's points
type BalanceModel struct {
	ID        string  `gorm:"primaryKey;size:64"`
	UserID    string  `gorm:"size:64;uniqueIndex"`
	Points    float64 `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BalanceModel) TableName() string { return "user_balances" }

func (m *BalanceModel) ToBalance() *ct.Balance {
	return &ct.Balance{
		ID:        m.ID,
		UserID:    m.UserID,
		Points:    m.Points,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ErrorLogModel stores a failed request
type ErrorLogModel struct {
	ID              string  `gorm:"primaryKey;size:64"`
	UserID          *string `gorm:"size:64;index"`
	Endpoint        string  `gorm:"size:512;index"`
	Method          string  `gorm:"size:16"`
	StatusCode      int     `gorm:"index"`
	ErrorType       string  `gorm:"size:64;index"`
	ErrorMessage    string  `gorm:"type:text"`
	ErrorDetails    *string `gorm:"type:text"`
	RequestID       *string `gorm:"size:64"`
	IPAddress       *string `gorm:"size:64"`
	UserAgent       *string `gorm:"size:512"`
	DurationMS      *int64
	RequestBody     *string `gorm:"type:text"`
	RequestHeaders  *string `gorm:"type:text"`
	ResponseBody    *string `gorm:"type:text"`
	StackTrace      *string `gorm:"type:text"`
	ResolvedAt      *time.Time
	ResolvedBy      *string   `gorm:"size:64"`
	ResolutionNotes *string   `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index"`
}

func (ErrorLogModel) TableName() string { return "error_logs" }

func (m *ErrorLogModel) ToErrorLog() *ct.ErrorLog {
	return &ct.ErrorLog{
		ID:              m.ID,
		UserID:          m.UserID,
		Endpoint:        m.Endpoint,
		Method:          m.Method,
		StatusCode:      m.StatusCode,
		ErrorType:       m.ErrorType,
		ErrorMessage:    m.ErrorMessage,
		ErrorDetails:    m.ErrorDetails,
		RequestID:       m.RequestID,
		IPAddress:       m.IPAddress,
		UserAgent:       m.UserAgent,
		DurationMS:      m.DurationMS,
		RequestBody:     m.RequestBody,
		RequestHeaders:  m.RequestHeaders,
		ResponseBody:    m.ResponseBody,
		StackTrace:      m.StackTrace,
		ResolvedAt:      m.ResolvedAt,
		ResolvedBy:      m.ResolvedBy,
		ResolutionNotes: m.ResolutionNotes,
		CreatedAt:       m.CreatedAt,
		Resolved:        m.ResolvedAt != nil,
	}
}

func ErrorLogToModel(e *ct.ErrorLog) *ErrorLogModel {
	return &ErrorLogModel{
		ID:              e.ID,
		UserID:          e.UserID,
		Endpoint:        e.Endpoint,
		Method:          e.Method,
		StatusCode:      e.StatusCode,
		ErrorType:       e.ErrorType,
		ErrorMessage:    e.ErrorMessage,
		ErrorDetails:    e.ErrorDetails,
		RequestID:       e.RequestID,
		IPAddress:       e.IPAddress,
		UserAgent:       e.UserAgent,
		DurationMS:      e.DurationMS,
		RequestBody:     e.RequestBody,
		RequestHeaders:  e.RequestHeaders,
		ResponseBody:    e.ResponseBody,
		StackTrace:      e.StackTrace,
		ResolvedAt:      e.ResolvedAt,
		ResolvedBy:      e.ResolvedBy,
		ResolutionNotes: e.ResolutionNotes,
		CreatedAt:       e.CreatedAt,
	}
}

// CarbonCreditModel is a tradable credit lot
type CarbonCreditModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	CreditType  string `gorm:"size:64;index"`
	ProjectType string `gorm:"size:64"`
	Quantity    float64
	Price       float64
	VintageYear int
	Issuer      string `gorm:"size:255"`
	Origin      string `gorm:"size:255"`
	CreatedAt   time.Time
}

func (CarbonCreditModel) TableName() string { return "carbon_credits" }

func (m *CarbonCreditModel) ToCarbonCredit() *ct.CarbonCredit {
	return &ct.CarbonCredit{
		ID:          m.ID,
		CreditType:  m.CreditType,
		ProjectType: m.ProjectType,
		Quantity:    m.Quantity,
		Price:       m.Price,
		VintageYear: m.VintageYear,
		Issuer:      m.Issuer,
		Origin:      m.Origin,
		CreatedAt:   m.CreatedAt,
	}
}

// OrderModel is a buy or sell offer
type OrderModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"size:64;index"`
	OrderType   string `gorm:"size:8;index"`
	Price       float64
	Quantity    float64
	CreditType  string `gorm:"size:64;index"`
	ProjectType string `gorm:"size:64"`
	VintageYear int
	Status      string `gorm:"size:16;index"`
	CreatedAt   time.Time
}

func (OrderModel) TableName() string { return "orders" }

func (m *OrderModel) ToOrder() *ct.Order {
	return &ct.Order{
		ID:          m.ID,
		UserID:      m.UserID,
		OrderType:   m.OrderType,
		Price:       m.Price,
		Quantity:    m.Quantity,
		CreditType:  m.CreditType,
		ProjectType: m.ProjectType,
		VintageYear: m.VintageYear,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}

// AssetModel is a user's credit holding
type AssetModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"size:64;index"`
	CreditType  string `gorm:"size:64"`
	ProjectType string `gorm:"size:64"`
	Quantity    float64
	VintageYear int
	CreatedAt   time.Time
}

func (AssetModel) TableName() string { return "assets" }

func (m *AssetModel) ToAsset() *ct.Asset {
	return &ct.Asset{
		ID:          m.ID,
		UserID:      m.UserID,
		CreditType:  m.CreditType,
		ProjectType: m.ProjectType,
		Quantity:    m.Quantity,
		VintageYear: m.VintageYear,
		CreatedAt:   m.CreatedAt,
	}
}

// TradeModel records trades
type TradeModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index"`
	OrderType string `gorm:"size:8"`
	Quantity  float64
	Price     float64
	Status    string `gorm:"size:16;index"`
	CreditID  string `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
}

func (TradeModel) TableName() string { return "trades" }

func (m *TradeModel) ToTrade() *ct.Trade {
	return &ct.Trade{
		ID:        m.ID,
		UserID:    m.UserID,
		OrderType: m.OrderType,
		Quantity:  m.Quantity,
		Price:     m.Price,
		Status:    m.Status,
		CreditID:  m.CreditID,
		CreatedAt: m.CreatedAt,
	}
}

// NotificationModel is an in-app message
type NotificationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index"`
	Title     string `gorm:"size:255"`
	Message   string `gorm:"type:text"`
	Type      string `gorm:"size:32"`
	Read      bool   `gorm:"default:false;index"`
	CreatedAt time.Time
}

func (NotificationModel) TableName() string { return "notifications" }

func (m *NotificationModel) ToNotification() *ct.Notification {
	return &ct.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Message:   m.Message,
		Type:      m.Type,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}
