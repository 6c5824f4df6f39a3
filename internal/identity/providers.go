package identity

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
	googleoauth "golang.org/x/oauth2/google"

	"tenantgate/internal/config"
)

// Provider is one configured identity provider.
type Provider struct {
	Name        string
	OAuth       *oauth2.Config
	UserInfoURL string

	// identity maps the provider's userinfo claims to a UserIdentity.
	identity func(claims map[string]interface{}) (UserIdentity, error)
}

// BuildProviders constructs the providers enabled by the configuration.
// redirectURL is the gateway's externally visible callback URL.
func BuildProviders(cfg config.ProvidersConfig, redirectURL string) []*Provider {
	var providers []*Provider

	if cfg.GitHub.Configured() {
		providers = append(providers, &Provider{
			Name: "github",
			OAuth: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				Endpoint:     githuboauth.Endpoint,
				RedirectURL:  redirectURL,
				Scopes:       []string{"read:user", "user:email"},
			},
			UserInfoURL: "https://api.github.com/user",
			identity:    githubIdentity,
		})
	}

	if cfg.Google.Configured() {
		providers = append(providers, &Provider{
			Name: "google",
			OAuth: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				Endpoint:     googleoauth.Endpoint,
				RedirectURL:  redirectURL,
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			identity:    googleIdentity,
		})
	}

	return providers
}

// githubIdentity maps GitHub /user claims. The numeric account id is the
// stable subject; logins can be renamed.
func githubIdentity(claims map[string]interface{}) (UserIdentity, error) {
	id, ok := claims["id"].(float64)
	if !ok {
		return UserIdentity{}, fmt.Errorf("github userinfo missing numeric id")
	}

	login, _ := claims["login"].(string)
	email, _ := claims["email"].(string)

	return UserIdentity{
		Provider: "github",
		Subject:  strconv.FormatInt(int64(id), 10),
		Login:    login,
		Email:    email,
	}, nil
}

// googleIdentity maps OIDC userinfo claims.
func googleIdentity(claims map[string]interface{}) (UserIdentity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return UserIdentity{}, fmt.Errorf("google userinfo missing sub claim")
	}

	email, _ := claims["email"].(string)
	login := email
	if at := strings.Index(email, "@"); at > 0 {
		login = email[:at]
	}

	return UserIdentity{
		Provider: "google",
		Subject:  sub,
		Login:    login,
		Email:    email,
	}, nil
}
