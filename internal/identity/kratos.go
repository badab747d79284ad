package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	kratos "github.com/ory/kratos-client-go"

	"menuboard/internal/autherr"
)

// Kratos is a Backend over the Ory Kratos native self-service API.
type Kratos struct {
	api    *kratos.APIClient
	logger *slog.Logger
}

var _ Backend = (*Kratos)(nil)

// NewKratos creates a Backend talking to the Kratos public API at publicURL.
func NewKratos(publicURL string, timeout time.Duration, logger *slog.Logger) *Kratos {
	if logger == nil {
		logger = slog.Default()
	}

	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{
			URL: publicURL,
		},
	}
	configuration.HTTPClient = &http.Client{Timeout: timeout}
	if configuration.DefaultHeader == nil {
		configuration.DefaultHeader = make(map[string]string)
	}
	configuration.DefaultHeader["Accept"] = "application/json"

	logger.Info("kratos client initialized", "public_url", publicURL, "timeout", timeout.String())

	return &Kratos{
		api:    kratos.NewAPIClient(configuration),
		logger: logger.With("component", "kratos"),
	}
}

// Health checks that the Kratos public API is reachable.
func (k *Kratos) Health(ctx context.Context) error {
	_, httpResp, err := k.api.MetadataAPI.GetVersion(ctx).Execute()
	if err != nil {
		return fmt.Errorf("kratos health check failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("kratos returned status %d", httpResp.StatusCode)
	}
	return nil
}

func (k *Kratos) Register(ctx context.Context, params SignUpParams) (*Registration, error) {
	flow, httpResp, err := k.api.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "registration_flow_create")
	}

	method := kratos.UpdateRegistrationFlowWithPasswordMethod{
		Method:   "password",
		Password: params.Password,
		Traits:   map[string]interface{}{"email": params.Email},
	}

	resp, httpResp, err := k.api.FrontendAPI.
		UpdateRegistrationFlow(ctx).
		Flow(flow.Id).
		UpdateRegistrationFlowBody(kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&method)).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "registration_flow_submit")
	}

	ident := resp.GetIdentity()
	identity, err := toIdentity(&ident)
	if err != nil {
		return nil, err
	}
	// Registration responses usually omit credentials. A present but empty
	// map means Kratos linked nothing, which the flow treats as a duplicate.
	if !ident.HasCredentials() {
		identity.Credentials = []string{"password"}
	}

	reg := &Registration{Identity: *identity}
	if resp.Session != nil && resp.GetSessionToken() != "" {
		session, err := toSession(resp.Session, resp.GetSessionToken())
		if err != nil {
			return nil, err
		}
		reg.Session = session
	}

	k.logger.Info("identity registered",
		"identity_id", identity.ID,
		"session_issued", reg.Session != nil)

	return reg, nil
}

func (k *Kratos) Login(ctx context.Context, email, password string) (*Session, error) {
	flow, httpResp, err := k.api.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "login_flow_create")
	}

	method := kratos.UpdateLoginFlowWithPasswordMethod{
		Method:     "password",
		Identifier: email,
		Password:   password,
	}

	resp, httpResp, err := k.api.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&method)).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "login_flow_submit")
	}

	session := resp.GetSession()
	return toSession(&session, resp.GetSessionToken())
}

func (k *Kratos) Logout(ctx context.Context, token string) error {
	httpResp, err := k.api.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(token)).
		Execute()
	if err != nil {
		return k.mapError(err, httpResp, "logout")
	}
	return nil
}

func (k *Kratos) Whoami(ctx context.Context, token string) (*Session, error) {
	resp, httpResp, err := k.api.FrontendAPI.
		ToSession(ctx).
		XSessionToken(token).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "whoami")
	}
	return toSession(resp, token)
}

// SendVerification starts a verification flow that mails a fresh code. The
// link target is governed by the Kratos verification UI setting, so
// redirectTo is only logged.
func (k *Kratos) SendVerification(ctx context.Context, email, redirectTo string) error {
	flow, httpResp, err := k.api.FrontendAPI.CreateNativeVerificationFlow(ctx).Execute()
	if err != nil {
		return k.mapError(err, httpResp, "verification_flow_create")
	}

	method := kratos.UpdateVerificationFlowWithCodeMethod{
		Method: "code",
		Email:  &email,
	}

	_, httpResp, err = k.api.FrontendAPI.
		UpdateVerificationFlow(ctx).
		Flow(flow.Id).
		UpdateVerificationFlowBody(kratos.UpdateVerificationFlowWithCodeMethodAsUpdateVerificationFlowBody(&method)).
		Execute()
	if err != nil {
		return k.mapError(err, httpResp, "verification_flow_submit")
	}

	k.logger.Debug("verification code sent", "flow_id", flow.Id, "redirect_to", redirectTo)
	return nil
}

func (k *Kratos) StartRecovery(ctx context.Context, email, redirectTo string) (string, error) {
	flow, httpResp, err := k.api.FrontendAPI.CreateNativeRecoveryFlow(ctx).Execute()
	if err != nil {
		return "", k.mapError(err, httpResp, "recovery_flow_create")
	}

	method := kratos.UpdateRecoveryFlowWithCodeMethod{
		Method: "code",
		Email:  &email,
	}

	_, httpResp, err = k.api.FrontendAPI.
		UpdateRecoveryFlow(ctx).
		Flow(flow.Id).
		UpdateRecoveryFlowBody(kratos.UpdateRecoveryFlowWithCodeMethodAsUpdateRecoveryFlowBody(&method)).
		Execute()
	if err != nil {
		return "", k.mapError(err, httpResp, "recovery_flow_submit")
	}

	k.logger.Debug("recovery code sent", "flow_id", flow.Id, "redirect_to", redirectTo)
	return flow.Id, nil
}

func (k *Kratos) CompleteRecovery(ctx context.Context, flowID, code string) (*Session, error) {
	method := kratos.UpdateRecoveryFlowWithCodeMethod{
		Method: "code",
		Code:   &code,
	}

	flow, httpResp, err := k.api.FrontendAPI.
		UpdateRecoveryFlow(ctx).
		Flow(flowID).
		UpdateRecoveryFlowBody(kratos.UpdateRecoveryFlowWithCodeMethodAsUpdateRecoveryFlowBody(&method)).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "recovery_flow_complete")
	}

	var token string
	for _, next := range flow.GetContinueWith() {
		if next.ContinueWithSetOrySessionToken != nil {
			token = next.ContinueWithSetOrySessionToken.GetOrySessionToken()
			break
		}
	}
	if token == "" {
		return nil, autherr.New(autherr.KindValidation, autherr.CodeRecoveryInvalid,
			"the recovery code is invalid or has expired")
	}

	return k.Whoami(ctx, token)
}

func (k *Kratos) UpdatePassword(ctx context.Context, token, password string) (*Identity, error) {
	flow, httpResp, err := k.api.FrontendAPI.
		CreateNativeSettingsFlow(ctx).
		XSessionToken(token).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "settings_flow_create")
	}

	method := kratos.UpdateSettingsFlowWithPasswordMethod{
		Method:   "password",
		Password: password,
	}

	resp, httpResp, err := k.api.FrontendAPI.
		UpdateSettingsFlow(ctx).
		Flow(flow.Id).
		XSessionToken(token).
		UpdateSettingsFlowBody(kratos.UpdateSettingsFlowWithPasswordMethodAsUpdateSettingsFlowBody(&method)).
		Execute()
	if err != nil {
		return nil, k.mapError(err, httpResp, "settings_flow_submit")
	}

	ident := resp.GetIdentity()
	return toIdentity(&ident)
}

func toSession(s *kratos.Session, token string) (*Session, error) {
	ident := s.GetIdentity()
	identity, err := toIdentity(&ident)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		ExpiresAt: s.GetExpiresAt(),
		Identity:  *identity,
	}, nil
}

func toIdentity(i *kratos.Identity) (*Identity, error) {
	id, err := uuid.Parse(i.Id)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindProvider, autherr.CodeUnknown,
			"something went wrong, please try again later", fmt.Errorf("parse identity id %q: %w", i.Id, err))
	}

	identity := &Identity{ID: id}
	if traits, ok := i.GetTraits().(map[string]interface{}); ok {
		identity.Email, _ = traits["email"].(string)
	}
	for _, addr := range i.GetVerifiableAddresses() {
		if addr.GetValue() == identity.Email || identity.Email == "" {
			identity.Confirmed = addr.GetVerified()
			break
		}
	}
	for credType := range i.GetCredentials() {
		identity.Credentials = append(identity.Credentials, credType)
	}

	return identity, nil
}

// mapError converts a Kratos API failure into an *autherr.Error. Raw provider
// text is logged, never returned.
func (k *Kratos) mapError(err error, httpResp *http.Response, operation string) error {
	status := 0
	if httpResp != nil {
		status = httpResp.StatusCode
	}

	var body []byte
	var apiErr *kratos.GenericOpenAPIError
	if errors.As(err, &apiErr) {
		body = apiErr.Body()
	}

	mapped := classify(status, body)
	mapped.Err = err

	k.logger.Warn("kratos request failed",
		"operation", operation,
		"http_status", status,
		"code", mapped.Code,
		"error", err)

	return mapped
}
