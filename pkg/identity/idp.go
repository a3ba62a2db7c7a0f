package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/openartifacts/catalog/pkg/common/config"
)

var ErrTokenRejected = errors.New("identity: token rejected by identity provider")

// Profile is what an identity provider tells us about a token's owner.
type Profile struct {
	IdPUID string
	Email  string
	Name   string
}

// Verifier checks an SSO token against one identity provider.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Profile, error)
}

// userinfoVerifier calls a provider's userinfo endpoint with the token as a
// bearer credential and maps the response to a Profile.
type userinfoVerifier struct {
	strategy string
	endpoint string
	timeout  time.Duration
}

// NewVerifiers builds the verifier set from config, keyed by strategy.
func NewVerifiers(cfg *config.Config) map[string]Verifier {
	return map[string]Verifier{
		"github":  &userinfoVerifier{strategy: "github", endpoint: cfg.GithubUserEndpoint, timeout: cfg.IDPRequestTimeout},
		"google":  &userinfoVerifier{strategy: "google", endpoint: cfg.GoogleUserinfoEndpoint, timeout: cfg.IDPRequestTimeout},
		"cilogon": &userinfoVerifier{strategy: "cilogon", endpoint: cfg.CILogonUserinfoEndpoint, timeout: cfg.IDPRequestTimeout},
	}
}

func (v *userinfoVerifier) Verify(ctx context.Context, token string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: %s userinfo request failed: %w", v.strategy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrTokenRejected
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: %s userinfo returned %d", v.strategy, resp.StatusCode)
	}

	switch v.strategy {
	case "github":
		var body struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		name := body.Name
		if name == "" {
			name = body.Login
		}
		return &Profile{
			IdPUID: strconv.FormatInt(body.ID, 10),
			Email:  body.Email,
			Name:   name,
		}, nil
	default:
		// google and cilogon both speak OIDC userinfo.
		var body struct {
			Sub   string `json:"sub"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return &Profile{IdPUID: body.Sub, Email: body.Email, Name: body.Name}, nil
	}
}
