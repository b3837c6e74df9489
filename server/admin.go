package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	ct "github.com/dennislee928/carbontrade"
)

// CreateUserRequest creates an account from the back office. Such accounts
// skip email confirmation.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

type RoleRequest struct {
	Role string `json:"role"`
}

func (a *App) adminRoutes(api *mux.Router) {
	requireAdmin := a.Middleware.RequireRole(ct.RoleAdmin)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/admins", a.handleListAdmins).Methods(http.MethodGet)
	admin.HandleFunc("/users", a.handleListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", a.handleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", a.handleGetUser).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}", a.handleUpdateUser).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}", a.handleDeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id}/role", a.handleAssignRole).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/balance", a.handleSetBalance).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/balance/add", a.handleAddPoints).Methods(http.MethodPost)
	admin.HandleFunc("/balances", a.handleListBalances).Methods(http.MethodGet)

	admin.HandleFunc("/error-logs", a.handleListErrorLogs).Methods(http.MethodGet)
	admin.HandleFunc("/error-logs", a.handleCreateErrorLog).Methods(http.MethodPost)
	admin.HandleFunc("/error-logs/stats", a.handleErrorLogStats).Methods(http.MethodGet)
	admin.HandleFunc("/error-logs/{id}", a.handleGetErrorLog).Methods(http.MethodGet)
	admin.HandleFunc("/error-logs/{id}/resolve", a.handleResolveErrorLog).Methods(http.MethodPut)

	stats := api.PathPrefix("/stats").Subrouter()
	stats.Use(requireAdmin)
	stats.HandleFunc("/overview", a.handleOverviewStats).Methods(http.MethodGet)
	stats.HandleFunc("/trades", a.handleTradeStats).Methods(http.MethodGet)
	stats.HandleFunc("/users", a.handleUserStats).Methods(http.MethodGet)
}

func (a *App) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	users, total, err := a.Users.ListUsers(ct.UserQuery{
		Search: r.URL.Query().Get("search"),
		Role:   ct.RoleAdmin,
		Sort:   r.URL.Query().Get("sort"),
		Page:   p.Page,
		Limit:  p.Limit,
	})
	if err != nil {
		writeFailure(w, r, "Admins", err)
		return
	}
	admins := make([]*ct.Admin, len(users))
	for i, u := range users {
		admins[i] = &ct.Admin{User: u, UserID: u.ID}
	}
	p.Total = total
	ct.WriteData(w, http.StatusOK, ct.AdminList{Admins: admins, Pagination: p}, "")
}

func (a *App) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	q := r.URL.Query()
	users, total, err := a.Users.ListUsers(ct.UserQuery{
		Search: q.Get("search"),
		Role:   q.Get("role"),
		Status: q.Get("status"),
		Sort:   q.Get("sort"),
		Page:   p.Page,
		Limit:  p.Limit,
	})
	if err != nil {
		writeFailure(w, r, "Users", err)
		return
	}
	if users == nil {
		users = []*ct.User{}
	}
	p.Total = total
	ct.WriteData(w, http.StatusOK, ct.UserList{Users: users, Pagination: p}, "")
}

func (a *App) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	creds := &ct.Credentials{Email: ct.NormalizeEmail(req.Email), Password: req.Password, Name: strings.TrimSpace(req.Name)}
	if err := ct.DefaultSignupValidator(creds); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	if req.Role == "" {
		req.Role = ct.RoleUser
	}
	if !ct.IsValidRole(req.Role) {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, "Invalid role", "role"))
		return
	}

	user, err := a.Local.CreateUser(creds)
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	if err := ct.MarkEmailVerified(a.Identities, a.Users, user.Email); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	if user, err = a.Users.GetUserByID(user.ID); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	if user.Role != req.Role {
		user.Role = req.Role
		if err := a.Users.SaveUser(user); err != nil {
			writeFailure(w, r, "User", err)
			return
		}
	}
	slog.InfoContext(r.Context(), "admin created user", "user_id", user.ID, "by", ct.GetUserIDFromContext(r.Context()))
	ct.WriteData(w, http.StatusCreated, user, "User created")
}

func (a *App) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == ct.GetUserIDFromContext(r.Context()) {
		ct.WriteError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}
	if err := a.Users.DeleteUser(id); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, nil, "User deleted")
}

func (a *App) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !ct.IsValidRole(req.Role) {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, "Invalid role", "role"))
		return
	}
	user, err := a.Users.GetUserByID(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	user.Role = req.Role
	user.UpdatedAt = time.Now()
	if err := a.Users.SaveUser(user); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, user, "Role updated")
}

func (a *App) handleListBalances(w http.ResponseWriter, r *http.Request) {
	p := pagination(r)
	balances, total, err := a.Balances.ListBalances(p)
	if err != nil {
		writeFailure(w, r, "Balances", err)
		return
	}
	if balances == nil {
		balances = []*ct.BalanceWithUser{}
	}
	p.Total = total
	ct.WriteData(w, http.StatusOK, ct.BalanceList{Balances: balances, Pagination: p}, "")
}

func (a *App) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req ct.UpdateBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Points < 0 {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, "points cannot be negative", "points"))
		return
	}
	balance, err := a.Balances.SetBalance(mux.Vars(r)["id"], req.Points)
	if err != nil {
		writeFailure(w, r, "Balance", err)
		return
	}
	ct.WriteData(w, http.StatusOK, balance, "Balance updated")
}

func (a *App) handleAddPoints(w http.ResponseWriter, r *http.Request) {
	var req ct.AddPointsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Points == 0 {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, "points must not be zero", "points"))
		return
	}
	userID := mux.Vars(r)["id"]
	balance, err := a.Balances.AddBalance(userID, req.Points)
	if err != nil {
		writeFailure(w, r, "Balance", err)
		return
	}
	msg := fmt.Sprintf("%g points were added to your balance", req.Points)
	if req.Reason != "" {
		msg += ": " + req.Reason
	}
	a.notify(r, userID, "Balance updated", msg)
	ct.WriteData(w, http.StatusOK, balance, "Points added")
}

func parseDate(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func (a *App) handleListErrorLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ct.ErrorLogQuery{
		Pagination: pagination(r),
		ErrorType:  q.Get("error_type"),
		StatusCode: queryInt(r, "status_code", 0),
		Endpoint:   q.Get("endpoint"),
		UserID:     q.Get("user_id"),
		Resolved:   queryBool(r, "resolved"),
		StartDate:  parseDate(q.Get("start_date")),
		EndDate:    parseDate(q.Get("end_date")),
	}
	logs, total, err := a.ErrorLogs.ListErrorLogs(query)
	if err != nil {
		writeFailure(w, r, "Error logs", err)
		return
	}
	if logs == nil {
		logs = []*ct.ErrorLog{}
	}
	p := query.Pagination
	p.Total = total
	ct.WriteData(w, http.StatusOK, ct.ErrorLogList{ErrorLogs: logs, Pagination: p}, "")
}

func (a *App) handleCreateErrorLog(w http.ResponseWriter, r *http.Request) {
	var req ct.CreateErrorLogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.ErrorMessage == "" {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeMissingField, "endpoint and error_message are required", ""))
		return
	}
	entry := req.ToErrorLog()
	if err := a.ErrorLogs.CreateErrorLog(entry); err != nil {
		writeFailure(w, r, "Error log", err)
		return
	}
	ct.WriteData(w, http.StatusCreated, entry, "Error log created")
}

func (a *App) handleGetErrorLog(w http.ResponseWriter, r *http.Request) {
	entry, err := a.ErrorLogs.GetErrorLog(mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, r, "Error log", err)
		return
	}
	ct.WriteData(w, http.StatusOK, entry, "")
}

func (a *App) handleResolveErrorLog(w http.ResponseWriter, r *http.Request) {
	var req ct.ResolveErrorLogRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = ct.GetUserIDFromContext(r.Context())
	}
	entry, err := a.ErrorLogs.ResolveErrorLog(mux.Vars(r)["id"], req.ResolvedBy, req.ResolutionNotes)
	if err != nil {
		writeFailure(w, r, "Error log", err)
		return
	}
	ct.WriteData(w, http.StatusOK, entry, "Error log resolved")
}

func (a *App) handleErrorLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.ErrorLogs.ErrorLogStats(queryInt(r, "days", 7))
	if err != nil {
		writeFailure(w, r, "Error log stats", err)
		return
	}
	ct.WriteData(w, http.StatusOK, stats, "")
}

func (a *App) handleOverviewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Stats.OverviewStats()
	if err != nil {
		writeFailure(w, r, "Stats", err)
		return
	}
	ct.WriteData(w, http.StatusOK, stats, "")
}

func (a *App) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Stats.TradeStats(queryInt(r, "days", 30))
	if err != nil {
		writeFailure(w, r, "Stats", err)
		return
	}
	ct.WriteData(w, http.StatusOK, stats, "")
}

func (a *App) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Stats.UserStats(queryInt(r, "days", 30))
	if err != nil {
		writeFailure(w, r, "Stats", err)
		return
	}
	ct.WriteData(w, http.StatusOK, stats, "")
}
