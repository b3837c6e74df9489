package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	ct "github.com/dennislee928/carbontrade"
)

const DefaultBackstageURL = "https://apiv1-carbontrading.dennisleehappy.org/api/v1"

// BackstageClient is the admin console's view of the API. baseURL already
// includes the /api/v1 prefix.
type BackstageClient struct {
	token *StaticToken
	api   requester
}

func NewBackstageClient(baseURL string, httpClient *http.Client) *BackstageClient {
	if baseURL == "" {
		baseURL = DefaultBackstageURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	b := &BackstageClient{token: &StaticToken{}}
	wrapped := *httpClient
	wrapped.Transport = &AuthTransport{Base: httpClient.Transport, Source: b.token}
	b.api = requester{
		baseURL: trimBase(baseURL),
		http:    &wrapped,
		describe: func(status int, _ string, msg string) string {
			if msg != "" {
				return msg
			}
			return fmt.Sprintf("HTTP error! status: %d", status)
		},
	}
	return b
}

func (b *BackstageClient) SetToken(token string) { b.token.Set(token) }

type AdminQuery struct {
	Search string
	Sort   string
	Page   int
}

func (b *BackstageClient) Admins(ctx context.Context, q AdminQuery) (*ct.AdminList, error) {
	params := url.Values{}
	setString(params, "search", q.Search)
	setString(params, "sort", q.Sort)
	setInt(params, "page", q.Page)
	var out ct.AdminList
	if err := b.api.do(ctx, http.MethodGet, "/admin/admins", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) Users(ctx context.Context, page, limit int) (*ct.UserList, error) {
	params := url.Values{}
	setInt(params, "page", page)
	setInt(params, "limit", limit)
	var out ct.UserList
	if err := b.api.do(ctx, http.MethodGet, "/admin/users", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) User(ctx context.Context, userID string) (*ct.User, error) {
	var out ct.User
	if err := b.api.do(ctx, http.MethodGet, "/admin/users/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUserRequest creates an account from the back office
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (b *BackstageClient) CreateUser(ctx context.Context, req CreateUserRequest) (*ct.User, error) {
	var out ct.User
	if err := b.api.do(ctx, http.MethodPost, "/admin/users", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) UpdateUser(ctx context.Context, userID string, update ct.UserUpdate) (*ct.User, error) {
	var out ct.User
	if err := b.api.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(userID), nil, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) AssignRole(ctx context.Context, userID, role string) (*ct.User, error) {
	var out ct.User
	if err := b.api.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(userID)+"/role", nil, map[string]string{"role": role}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) DeleteUser(ctx context.Context, userID string) error {
	return b.api.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, nil, nil)
}

func (b *BackstageClient) Balances(ctx context.Context, page, limit int) (*ct.BalanceList, error) {
	params := url.Values{}
	setInt(params, "page", page)
	setInt(params, "limit", limit)
	var out ct.BalanceList
	if err := b.api.do(ctx, http.MethodGet, "/admin/balances", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) SetBalance(ctx context.Context, userID string, points float64) (*ct.Balance, error) {
	var out ct.Balance
	err := b.api.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(userID)+"/balance", nil, ct.UpdateBalanceRequest{Points: points}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) AddPoints(ctx context.Context, userID string, req ct.AddPointsRequest) (*ct.Balance, error) {
	var out ct.Balance
	if err := b.api.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(userID)+"/balance/add", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ErrorLogFilter mirrors the error log listing query parameters
type ErrorLogFilter struct {
	Page       int
	Limit      int
	ErrorType  string
	StatusCode int
	Endpoint   string
	UserID     string
	Resolved   *bool
	StartDate  string
	EndDate    string
}

func (f ErrorLogFilter) values() url.Values {
	params := url.Values{}
	setInt(params, "page", f.Page)
	setInt(params, "limit", f.Limit)
	setString(params, "error_type", f.ErrorType)
	setInt(params, "status_code", f.StatusCode)
	setString(params, "endpoint", f.Endpoint)
	setString(params, "user_id", f.UserID)
	if f.Resolved != nil {
		params.Set("resolved", strconv.FormatBool(*f.Resolved))
	}
	setString(params, "start_date", f.StartDate)
	setString(params, "end_date", f.EndDate)
	return params
}

func (b *BackstageClient) ErrorLogs(ctx context.Context, f ErrorLogFilter) (*ct.ErrorLogList, error) {
	var out ct.ErrorLogList
	if err := b.api.do(ctx, http.MethodGet, "/admin/error-logs", f.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) ErrorLog(ctx context.Context, id string) (*ct.ErrorLog, error) {
	var out ct.ErrorLog
	if err := b.api.do(ctx, http.MethodGet, "/admin/error-logs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) CreateErrorLog(ctx context.Context, req ct.CreateErrorLogRequest) (*ct.ErrorLog, error) {
	var out ct.ErrorLog
	if err := b.api.do(ctx, http.MethodPost, "/admin/error-logs", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) ResolveErrorLog(ctx context.Context, id string, req ct.ResolveErrorLogRequest) (*ct.ErrorLog, error) {
	var out ct.ErrorLog
	if err := b.api.do(ctx, http.MethodPut, "/admin/error-logs/"+url.PathEscape(id)+"/resolve", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) ErrorLogStats(ctx context.Context, days int) (*ct.ErrorLogStats, error) {
	params := url.Values{}
	setInt(params, "days", days)
	var out ct.ErrorLogStats
	if err := b.api.do(ctx, http.MethodGet, "/admin/error-logs/stats", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) OverviewStats(ctx context.Context) (*ct.OverviewStats, error) {
	var out ct.OverviewStats
	if err := b.api.do(ctx, http.MethodGet, "/stats/overview", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) TradeStats(ctx context.Context) (*ct.TradeStats, error) {
	var out ct.TradeStats
	if err := b.api.do(ctx, http.MethodGet, "/stats/trades", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) UserStats(ctx context.Context) (*ct.UserStats, error) {
	var out ct.UserStats
	if err := b.api.do(ctx, http.MethodGet, "/stats/users", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) OrderBook(ctx context.Context, f ct.OrderBookFilter) (*ct.OrderBook, error) {
	params := url.Values{}
	setString(params, "credit_type", f.CreditType)
	setInt(params, "vintage_year", f.VintageYear)
	setString(params, "project_type", f.ProjectType)
	var out ct.OrderBook
	if err := b.api.do(ctx, http.MethodGet, "/market/orderbook", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) CreateTradeOffer(ctx context.Context, req ct.CreateTradeOfferRequest) (*ct.TradeOffer, error) {
	var out ct.TradeOffer
	if err := b.api.do(ctx, http.MethodPost, "/market/trade-offers", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) Purchase(ctx context.Context, creditID string, quantity float64) (*ct.Purchase, error) {
	var out ct.Purchase
	err := b.api.do(ctx, http.MethodPost, "/market/purchase", nil, ct.PurchaseRequest{CreditID: creditID, Quantity: quantity}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) Notifications(ctx context.Context, page, limit int, unreadOnly *bool) (*ct.NotificationList, error) {
	params := url.Values{}
	setInt(params, "page", page)
	setInt(params, "limit", limit)
	if unreadOnly != nil {
		params.Set("unread_only", strconv.FormatBool(*unreadOnly))
	}
	var out ct.NotificationList
	if err := b.api.do(ctx, http.MethodGet, "/notifications", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BackstageClient) MarkNotificationsRead(ctx context.Context, ids []string) error {
	return b.api.do(ctx, http.MethodPost, "/notifications/mark-read", nil, ct.MarkReadRequest{NotificationIDs: ids}, nil)
}

func (b *BackstageClient) DeleteNotification(ctx context.Context, id string) error {
	return b.api.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil, nil)
}

func setString(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func setInt(v url.Values, key string, value int) {
	if value != 0 {
		v.Set(key, strconv.Itoa(value))
	}
}
