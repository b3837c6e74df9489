package carbontrade

import (
	"encoding/json"
	"strings"
	"time"
)

// UserUpdate is a partial profile change. Role, Status and Level are
// honored only for administrators.
type UserUpdate struct {
	Email   *string `json:"email,omitempty"`
	Name    *string `json:"name,omitempty"`
	Role    *string `json:"role,omitempty"`
	Status  *string `json:"status,omitempty"`
	Level   *int    `json:"level,omitempty"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
}

// Apply copies the set fields onto u. Privileged fields are skipped unless admin is true.
func (p *UserUpdate) Apply(u *User, admin bool) error {
	if p.Email != nil {
		email := NormalizeEmail(*p.Email)
		if err := ValidateEmail(email); err != nil {
			return err
		}
		u.Email = email
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if !admin {
		return nil
	}
	if p.Role != nil {
		if !IsValidRole(*p.Role) {
			return NewAuthError(ErrCodeInvalidField, "Invalid role", "role")
		}
		u.Role = *p.Role
	}
	if p.Status != nil {
		if !IsValidStatus(*p.Status) {
			return NewAuthError(ErrCodeInvalidField, "Invalid status", "status")
		}
		u.Status = *p.Status
	}
	if p.Level != nil {
		u.Level = *p.Level
	}
	return nil
}

// Admin is an administrator as listed on the back office
type Admin struct {
	*User
	UserID string `json:"user_id"`
}

type AdminList struct {
	Admins     []*Admin   `json:"admins"`
	Pagination Pagination `json:"pagination"`
}

type UserList struct {
	Users      []*User    `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type BalanceList struct {
	Balances   []*BalanceWithUser `json:"balances"`
	Pagination Pagination         `json:"pagination"`
}

type ErrorLogList struct {
	ErrorLogs  []*ErrorLog `json:"error_logs"`
	Pagination Pagination  `json:"pagination"`
}

type NotificationList struct {
	Notifications []*Notification `json:"notifications"`
	Pagination    Pagination      `json:"pagination"`
}

type UpdateBalanceRequest struct {
	Points float64 `json:"points"`
}

type AddPointsRequest struct {
	Points float64 `json:"points"`
	Reason string  `json:"reason,omitempty"`
}

type ResolveErrorLogRequest struct {
	ResolvedBy      string `json:"resolved_by"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

type PurchaseRequest struct {
	CreditID string  `json:"credit_id"`
	Quantity float64 `json:"quantity"`
}

type MarkReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

type CreateTradeOfferRequest struct {
	OrderType   string  `json:"order_type"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	CreditType  string  `json:"credit_type"`
	ProjectType string  `json:"project_type"`
	VintageYear int     `json:"vintage_year"`
}

// CreateTradeRequest is the storefront's simple trade request
type CreateTradeRequest struct {
	UserID    string  `json:"user_id"`
	OrderType string  `json:"order_type"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
}

// TradeOffer is a newly posted order as echoed back to its owner
type TradeOffer struct {
	OfferID     string    `json:"offer_id"`
	OrderType   string    `json:"order_type"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	CreditType  string    `json:"credit_type"`
	ProjectType string    `json:"project_type"`
	VintageYear int       `json:"vintage_year"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func OfferFromOrder(o *Order) *TradeOffer {
	return &TradeOffer{
		OfferID:     o.ID,
		OrderType:   o.OrderType,
		Price:       o.Price,
		Quantity:    o.Quantity,
		CreditType:  o.CreditType,
		ProjectType: o.ProjectType,
		VintageYear: o.VintageYear,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
	}
}

// CreateErrorLogRequest reports a failure observed outside the API, e.g. by
// a front end. Free-form fields may be any JSON value.
type CreateErrorLogRequest struct {
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	StatusCode     int             `json:"status_code"`
	ErrorType      string          `json:"error_type"`
	ErrorMessage   string          `json:"error_message"`
	RequestID      string          `json:"request_id"`
	ErrorDetails   json.RawMessage `json:"error_details,omitempty"`
	IPAddress      string          `json:"ip_address,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	DurationMS     *int64          `json:"duration_ms,omitempty"`
	RequestBody    json.RawMessage `json:"request_body,omitempty"`
	RequestHeaders json.RawMessage `json:"request_headers,omitempty"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	StackTrace     string          `json:"stack_trace,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
}

func (req *CreateErrorLogRequest) ToErrorLog() *ErrorLog {
	return &ErrorLog{
		UserID:         optString(req.UserID),
		Endpoint:       req.Endpoint,
		Method:         req.Method,
		StatusCode:     req.StatusCode,
		ErrorType:      req.ErrorType,
		ErrorMessage:   req.ErrorMessage,
		ErrorDetails:   rawString(req.ErrorDetails),
		RequestID:      optString(req.RequestID),
		IPAddress:      optString(req.IPAddress),
		UserAgent:      optString(req.UserAgent),
		DurationMS:     req.DurationMS,
		RequestBody:    rawString(req.RequestBody),
		RequestHeaders: rawString(req.RequestHeaders),
		ResponseBody:   rawString(req.ResponseBody),
		StackTrace:     optString(req.StackTrace),
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := string(raw)
	return &s
}
