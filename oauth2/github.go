package oauth2

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// EmailsURL lists the account's addresses. GitHub leaves email null on
	// /user when the address is private.
	EmailsURL string
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func NewGithubOAuth2(clientId string, clientSecret string, callbackUrl string, handleUser HandleUserFunc) *GithubOAuth2 {
	out := &GithubOAuth2{
		BaseOAuth2: newBaseOAuth2("github", clientId, clientSecret, callbackUrl, github.Endpoint, []string{
			"read:user", "user:email",
		}, handleUser),
		EmailsURL: "https://api.github.com/user/emails",
	}
	out.UserInfoURL = "https://api.github.com/user"
	out.enrich = out.addPrimaryEmail
	return out
}

func (g *GithubOAuth2) addPrimaryEmail(ctx context.Context, token *oauth2.Token, userInfo map[string]any) error {
	if email, _ := userInfo["email"].(string); strings.TrimSpace(email) != "" {
		return nil
	}
	var emails []githubEmail
	if err := g.getJSON(ctx, g.EmailsURL, token, &emails); err != nil {
		return err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			userInfo["email"] = e.Email
			return nil
		}
	}
	return nil
}
