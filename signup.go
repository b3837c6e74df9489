package carbontrade

import (
	"log"
	"net/http"
)

// RegisterResponse is returned after a successful registration
type RegisterResponse struct {
	Status                    string `json:"status"`
	Message                   string `json:"message"`
	UserID                    string `json:"user_id"`
	EmailConfirmationRequired bool   `json:"email_confirmation_required"`
	Info                      string `json:"info,omitempty"`
}

// HandleRegister handles POST /auth/register {email, password, name?}.
// The account starts pending and is activated by OTP or email verification.
func (a *LocalAuth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if a.CreateUser == nil {
		WriteError(w, http.StatusInternalServerError, "Signup not configured")
		return
	}

	var creds Credentials
	if err := DecodeJSON(r, &creds); err != nil {
		a.handleSignupError(NewAuthError(ErrCodeMissingField, "Invalid request body", ""), w, r)
		return
	}
	creds.Email = NormalizeEmail(creds.Email)

	validate := a.ValidateSignup
	if validate == nil {
		validate = DefaultSignupValidator
	}
	if err := validate(&creds); err != nil {
		ae, ok := AsAuthError(err)
		if !ok {
			ae = NewAuthError(ErrCodeMissingField, err.Error(), "")
		}
		a.handleSignupError(ae, w, r)
		return
	}

	user, err := a.CreateUser(&creds)
	if err != nil {
		if ae, ok := AsAuthError(err); ok {
			a.handleSignupError(ae, w, r)
			return
		}
		log.Println("error creating user: ", err)
		WriteError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	// Delivery failures don't undo the account; the user can request another code
	info := "An OTP has been sent to your email"
	switch {
	case a.OTP != nil:
		if err := a.OTP.Issue(r.Context(), user.Email, user.Name, OTPPurposeSignup); err != nil {
			log.Println("error sending otp: ", err)
			info = "Account created but the OTP could not be sent; request a new one"
		}
	case a.TokenStore != nil && a.Mailer != nil:
		info = "A verification link has been sent to your email"
		if err := a.SendVerificationLink(r, user); err != nil {
			log.Println("error sending verification email: ", err)
			info = "Account created but the verification email could not be sent"
		}
	default:
		info = ""
	}

	WriteJSON(w, http.StatusCreated, RegisterResponse{
		Status:                    "success",
		Message:                   "User registered successfully",
		UserID:                    user.ID,
		EmailConfirmationRequired: true,
		Info:                      info,
	})
}
