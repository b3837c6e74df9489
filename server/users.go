package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	ct "github.com/dennislee928/carbontrade"
)

func (a *App) userRoutes(api *mux.Router) {
	api.Handle("/users/me", a.authed(a.handleGetUser)).Methods(http.MethodGet)
	api.Handle("/users/me", a.authed(a.handleUpdateUser)).Methods(http.MethodPut)
	api.Handle("/users/me/picture", a.authed(a.handleUploadPicture)).Methods(http.MethodPost)
	api.Handle("/users/me/kyc", a.authed(a.handleUploadKYC)).Methods(http.MethodPost)

	api.Handle("/users/{id}", a.authed(a.handleGetUser)).Methods(http.MethodGet)
	api.Handle("/users/{id}", a.authed(a.handleUpdateUser)).Methods(http.MethodPut)
	api.Handle("/users/{id}/assets", a.authed(a.handleUserAssets)).Methods(http.MethodGet)
	api.Handle("/users/{id}/tradeHistory", a.authed(a.handleTradeHistory)).Methods(http.MethodGet)
}

func (a *App) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := targetUser(w, r)
	if !ok {
		return
	}
	user, err := a.Users.GetUserByID(id)
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, user, "")
}

func (a *App) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := targetUser(w, r)
	if !ok {
		return
	}
	var update ct.UserUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	user, err := a.Users.GetUserByID(id)
	if err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	// the email is the login identity and is not edited through profiles
	if update.Email != nil && ct.NormalizeEmail(*update.Email) != user.Email {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, "Email cannot be changed", "email"))
		return
	}
	claims := ct.ClaimsFromContext(r.Context())
	if err := update.Apply(user, claims.IsAdmin()); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	user.UpdatedAt = time.Now()
	if err := a.Users.SaveUser(user); err != nil {
		writeFailure(w, r, "User", err)
		return
	}
	ct.WriteData(w, http.StatusOK, user, "Profile updated successfully")
}

func (a *App) handleUserAssets(w http.ResponseWriter, r *http.Request) {
	id, ok := targetUser(w, r)
	if !ok {
		return
	}
	assets, err := a.Market.ListUserAssets(id)
	if err != nil {
		writeFailure(w, r, "Assets", err)
		return
	}
	if assets == nil {
		assets = []*ct.Asset{}
	}
	ct.WriteData(w, http.StatusOK, assets, "")
}

func (a *App) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := targetUser(w, r)
	if !ok {
		return
	}
	trades, err := a.Market.ListUserTrades(id)
	if err != nil {
		writeFailure(w, r, "Trades", err)
		return
	}
	if trades == nil {
		trades = []*ct.Trade{}
	}
	ct.WriteData(w, http.StatusOK, trades, "")
}
