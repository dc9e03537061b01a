package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/gaud-proxy/gaud/internal/tokenstore"
)

const (
	copilotDeviceCodeURL   = "https://github.com/login/device/code"
	copilotTokenURL        = "https://github.com/login/oauth/access_token"
	copilotDefaultClientID = "Iv1.b507a08c87ecfe98"
)

// CopilotConfig configures the GitHub device-code flow (RFC 8628).
type CopilotConfig struct {
	ClientID string
}

// copilotFlow implements Flow for GitHub's device authorization grant.
// AuthorizeURL/Exchange are not used for Copilot — StartDeviceFlow and
// CompleteDeviceFlow on Manager drive the actual handshake — but the flow
// still registers so RefreshToken has an Endpoint to hit.
type copilotFlow struct {
	oauth2Config oauth2.Config
}

// NewCopilotFlow builds a copilot Flow from cfg.
func NewCopilotFlow(cfg CopilotConfig) Flow {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = copilotDefaultClientID
	}
	return &copilotFlow{
		oauth2Config: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: copilotDeviceCodeURL,
				TokenURL:      copilotTokenURL,
			},
		},
	}
}

func (f *copilotFlow) Name() string { return "copilot" }

func (f *copilotFlow) AuthorizeURL(state string) (string, string, error) {
	return "", "", fmt.Errorf("oauth: copilot uses the device code flow, call StartDeviceFlow instead")
}

func (f *copilotFlow) Exchange(ctx context.Context, code, verifier string) (*tokenstore.Info, error) {
	return nil, fmt.Errorf("oauth: copilot uses the device code flow, call CompleteDeviceFlow instead")
}

// Refresh is a no-op error: GitHub's Copilot token is long-lived and does
// not support refresh tokens; re-authenticate via the device flow instead.
func (f *copilotFlow) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Info, error) {
	return nil, fmt.Errorf("oauth: copilot tokens don't support refresh; re-authenticate via the device flow")
}

// StartDeviceFlow requests a device code from GitHub. Present
// resp.UserCode and resp.VerificationURI to the operator.
func (m *Manager) StartDeviceFlow(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	f, err := m.flow("copilot")
	if err != nil {
		return nil, err
	}
	cf, ok := f.(*copilotFlow)
	if !ok {
		return nil, fmt.Errorf("oauth: copilot flow not registered correctly")
	}
	return cf.oauth2Config.DeviceAuth(ctx)
}

// CompleteDeviceFlow polls GitHub until the operator has approved the
// device code, then persists the resulting token.
func (m *Manager) CompleteDeviceFlow(ctx context.Context, resp *oauth2.DeviceAuthResponse) (*tokenstore.Info, error) {
	f, err := m.flow("copilot")
	if err != nil {
		return nil, err
	}
	cf, ok := f.(*copilotFlow)
	if !ok {
		return nil, fmt.Errorf("oauth: copilot flow not registered correctly")
	}

	tok, err := cf.oauth2Config.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("oauth: copilot device flow: %w", err)
	}

	info := fromOAuth2Token(tok, "copilot")
	if err := m.store.Save(ctx, "copilot", info); err != nil {
		return nil, fmt.Errorf("oauth: save copilot token: %w", err)
	}
	return info, nil
}
