package indexapi

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// Scope is the OAuth scope the Indexing API requires.
const Scope = "https://www.googleapis.com/auth/indexing"

// Credentials selects how bearer tokens are obtained. The first populated
// option wins: AccessToken, File, then ClientEmail with PrivateKey.
type Credentials struct {
	// AccessToken is a pre-minted bearer token.
	AccessToken string
	// File is a service-account JSON key file.
	File        string
	ClientEmail string
	// PrivateKey is the PEM key; literal "\n" sequences are accepted so the
	// key can travel through a single-line environment variable.
	PrivateKey string
}

// TokenSource builds a reusable token source, or ErrMissingCredentials when
// nothing is configured. ctx must outlive the returned source.
func (c Credentials) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	switch {
	case c.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}), nil
	case c.File != "":
		data, err := os.ReadFile(c.File)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		cfg, err := google.JWTConfigFromJSON(data, Scope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
		return cfg.TokenSource(ctx), nil
	case c.ClientEmail != "" && c.PrivateKey != "":
		cfg := &jwt.Config{
			Email:      c.ClientEmail,
			PrivateKey: []byte(strings.ReplaceAll(c.PrivateKey, `\n`, "\n")),
			Scopes:     []string{Scope},
			TokenURL:   google.JWTTokenURL,
		}
		return cfg.TokenSource(ctx), nil
	default:
		return nil, ErrMissingCredentials
	}
}
