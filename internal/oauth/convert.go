package oauth

import (
	"golang.org/x/oauth2"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

// fromOAuth2Token adapts an *oauth2.Token into a tokenstore.Info.
func fromOAuth2Token(tok *oauth2.Token, provider string) *tokenstore.Info {
	info := &tokenstore.Info{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Provider:     provider,
	}
	if info.TokenType == "" {
		info.TokenType = "Bearer"
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		info.ExpiresAt = &exp
	}
	return info
}
