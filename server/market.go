package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	ct "github.com/dennislee928/carbontrade"
)

func (a *App) marketRoutes(api *mux.Router) {
	api.HandleFunc("/carbonCredits", a.handleListCredits).Methods(http.MethodGet)
	api.HandleFunc("/carbonCredits/{id}", a.handleGetCredit).Methods(http.MethodGet)
	api.Handle("/trades/create", a.authed(a.handleCreateTrade)).Methods(http.MethodPost)
	api.Handle("/trades/orders/{userId}", a.authed(a.handleUserOrders)).Methods(http.MethodGet)

	api.HandleFunc("/market/orderbook", a.handleOrderBook).Methods(http.MethodGet)
	api.Handle("/market/trade-offers", a.authed(a.handleCreateTradeOffer)).Methods(http.MethodPost)
	api.Handle("/market/purchase", a.authed(a.handlePurchase)).Methods(http.MethodPost)

	api.Handle("/notifications", a.authed(a.handleListNotifications)).Methods(http.MethodGet)
	api.Handle("/notifications/mark-read", a.authed(a.handleMarkRead)).Methods(http.MethodPost)
	api.Handle("/notifications/{id}", a.authed(a.handleDeleteNotification)).Methods(http.MethodDelete)
}

// handleListCredits supports the storefront's optional filters
func (a *App) handleListCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := a.Market.ListCarbonCredits()
	if err != nil {
		writeFailure(w, r, "Carbon credits", err)
		return
	}
	q := r.URL.Query()
	creditType, projectType := q.Get("credit_type"), q.Get("project_type")
	vintage := queryInt(r, "vintage_year", 0)
	out := make([]*ct.CarbonCredit, 0, len(credits))
	for _, c := range credits {
		if creditType != "" && !strings.EqualFold(c.CreditType, creditType) {
			continue
		}
		if projectType != "" && !strings.EqualFold(c.ProjectType, projectType) {
			continue
		}
		if vintage != 0 && c.VintageYear != vintage {
			continue
		}
		out = append(out, c)
	}
	ct.WriteData(w, http.StatusOK, out, "")
}

func (a *App) handleGetCredit(w http.ResponseWriter, r *http.Request) {
	credit, err := a.Market.GetCarbonCredit(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, "Carbon credit", err)
		return
	}
	ct.WriteData(w, http.StatusOK, credit, "")
}

func validOrder(orderType string, quantity, price float64) *ct.AuthError {
	switch {
	case orderType != ct.OrderTypeBuy && orderType != ct.OrderTypeSell:
		return ct.NewAuthError(ct.ErrCodeInvalidField, "order_type must be buy or sell", "order_type")
	case quantity <= 0:
		return ct.NewAuthError(ct.ErrCodeInvalidField, "quantity must be positive", "quantity")
	case price <= 0:
		return ct.NewAuthError(ct.ErrCodeInvalidField, "price must be positive", "price")
	}
	return nil
}

func (a *App) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req ct.CreateTradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	claims := ct.ClaimsFromContext(r.Context())
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if req.UserID != claims.UserID && !claims.IsAdmin() {
		ct.WriteError(w, http.StatusForbidden, "Cannot trade on behalf of another user")
		return
	}
	req.OrderType = strings.ToLower(req.OrderType)
	if ae := validOrder(req.OrderType, req.Quantity, req.Price); ae != nil {
		ct.WriteAuthError(w, ae)
		return
	}

	trade := &ct.Trade{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		OrderType: req.OrderType,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    ct.TradeStatusPending,
		CreatedAt: time.Now(),
	}
	if err := a.Market.CreateTrade(trade); err != nil {
		writeFailure(w, r, "Trade", err)
		return
	}
	ct.WriteData(w, http.StatusCreated, trade, "Trade created")
}

func (a *App) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := targetUser(w, r)
	if !ok {
		return
	}
	orders, err := a.Market.ListUserOrders(id)
	if err != nil {
		writeFailure(w, r, "Orders", err)
		return
	}
	if orders == nil {
		orders = []*ct.Order{}
	}
	ct.WriteData(w, http.StatusOK, orders, "")
}

func (a *App) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	book, err := a.Market.OrderBook(ct.OrderBookFilter{
		CreditType:  q.Get("credit_type"),
		ProjectType: q.Get("project_type"),
		VintageYear: queryInt(r, "vintage_year", 0),
	})
	if err != nil {
		writeFailure(w, r, "Order book", err)
		return
	}
	ct.WriteData(w, http.StatusOK, book, "")
}

func (a *App) handleCreateTradeOffer(w http.ResponseWriter, r *http.Request) {
	var req ct.CreateTradeOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.OrderType = strings.ToLower(req.OrderType)
	if ae := validOrder(req.OrderType, req.Quantity, req.Price); ae != nil {
		ct.WriteAuthError(w, ae)
		return
	}
	if req.CreditType == "" {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeMissingField, "credit_type is required", "credit_type"))
		return
	}

	order := &ct.Order{
		ID:          uuid.NewString(),
		UserID:      ct.GetUserIDFromContext(r.Context()),
		OrderType:   req.OrderType,
		Price:       req.Price,
		Quantity:    req.Quantity,
		CreditType:  req.CreditType,
		ProjectType: req.ProjectType,
		VintageYear: req.VintageYear,
		Status:      ct.OrderStatusOpen,
		CreatedAt:   time.Now(),
	}
	if err := a.Market.CreateOrder(order); err != nil {
		writeFailure(w, r, "Trade offer", err)
		return
	}
	a.notify(r, order.UserID, "Trade offer posted",
		fmt.Sprintf("Your %s offer for %g %s credits at %g was posted", order.OrderType, order.Quantity, order.CreditType, order.Price))
	ct.WriteData(w, http.StatusCreated, ct.OfferFromOrder(order), "Trade offer created")
}

func (a *App) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req ct.PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CreditID == "" {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeMissingField, "credit_id is required", "credit_id"))
		return
	}
	purchase, err := a.Market.Purchase(ct.GetUserIDFromContext(r.Context()), req.CreditID, req.Quantity)
	if err != nil {
		writeFailure(w, r, "Carbon credit", err)
		return
	}
	ct.WriteData(w, http.StatusOK, purchase, "Purchase completed")
}

func (a *App) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	unread := queryBool(r, "unread_only")
	items, total, err := a.Notifications.ListNotifications(ct.GetUserIDFromContext(r.Context()), unread != nil && *unread, p)
	if err != nil {
		writeFailure(w, r, "Notifications", err)
		return
	}
	if items == nil {
		items = []*ct.Notification{}
	}
	p.Total = total
	ct.WriteData(w, http.StatusOK, ct.NotificationList{Notifications: items, Pagination: p}, "")
}

func (a *App) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req ct.MarkReadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := a.Notifications.MarkNotificationsRead(ct.GetUserIDFromContext(r.Context()), req.NotificationIDs)
	if err != nil {
		writeFailure(w, r, "Notifications", err)
		return
	}
	ct.WriteData(w, http.StatusOK, map[string]int64{"updated": n}, "Notifications marked as read")
}

func (a *App) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	err := a.Notifications.DeleteNotification(ct.GetUserIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, "Notification", err)
		return
	}
	ct.WriteData(w, http.StatusOK, nil, "Notification deleted")
}

// notify records an in-app notification; failures are only logged
func (a *App) notify(r *http.Request, userID, title, message string) {
	if a.Notifications == nil || userID == "" {
		return
	}
	err := a.Notifications.CreateNotification(&ct.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      "system",
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.WarnContext(r.Context(), "failed to create notification", "user_id", userID, "error", err)
	}
}
