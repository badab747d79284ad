package identity

import (
	"encoding/json"
	"net/http"

	"menuboard/internal/autherr"
)

// Kratos UI message IDs the flow reacts to.
// See https://www.ory.sh/docs/kratos/concepts/ui-messages.
const (
	msgPasswordPolicy     = 4000005
	msgInvalidCredentials = 4000006
	msgDuplicateAccount   = 4000007
	msgAddressNotVerified = 4000010
	msgRecoveryCodeBad    = 4060006
	msgVerificationBad    = 4070006
)

type mapping struct {
	kind    autherr.Kind
	code    string
	message string
}

var messageTable = map[int64]mapping{
	msgPasswordPolicy:     {autherr.KindValidation, autherr.CodePasswordPolicy, "the password does not meet the security requirements"},
	msgInvalidCredentials: {autherr.KindProvider, autherr.CodeInvalidCredentials, "invalid email or password"},
	msgDuplicateAccount:   {autherr.KindConflict, autherr.CodeAlreadyRegistered, "this email is already registered"},
	msgAddressNotVerified: {autherr.KindProvider, autherr.CodeEmailNotConfirmed, "please confirm your email address before signing in"},
	msgRecoveryCodeBad:    {autherr.KindValidation, autherr.CodeRecoveryInvalid, "the recovery code is invalid or has expired"},
	msgVerificationBad:    {autherr.KindValidation, autherr.CodeRecoveryInvalid, "the confirmation code is invalid or has expired"},
}

var statusTable = map[int]mapping{
	http.StatusUnauthorized:    {autherr.KindNotAuthenticated, autherr.CodeSessionRequired, "you need to be signed in to do that"},
	http.StatusForbidden:       {autherr.KindNotAuthenticated, autherr.CodeSessionRequired, "you need to be signed in to do that"},
	http.StatusTooManyRequests: {autherr.KindProvider, autherr.CodeRateLimited, "too many requests, please wait a moment and try again"},
	http.StatusConflict:        {autherr.KindConflict, autherr.CodeAlreadyRegistered, "this email is already registered"},
}

var fallback = mapping{autherr.KindProvider, autherr.CodeUnavailable, "something went wrong, please try again later"}

type uiText struct {
	ID int64 `json:"id"`
}

type errorBody struct {
	UI struct {
		Messages []uiText `json:"messages"`
		Nodes    []struct {
			Messages []uiText `json:"messages"`
		} `json:"nodes"`
	} `json:"ui"`
	Error struct {
		Code int `json:"code"`
	} `json:"error"`
}

// classify maps an HTTP status and Kratos response body to an error. UI
// message IDs take precedence over the status code.
func classify(status int, body []byte) *autherr.Error {
	var parsed errorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		ids := make([]int64, 0, len(parsed.UI.Messages))
		for _, m := range parsed.UI.Messages {
			ids = append(ids, m.ID)
		}
		for _, n := range parsed.UI.Nodes {
			for _, m := range n.Messages {
				ids = append(ids, m.ID)
			}
		}
		for _, id := range ids {
			if m, ok := messageTable[id]; ok {
				return autherr.New(m.kind, m.code, m.message)
			}
		}
		if status == 0 {
			status = parsed.Error.Code
		}
	}

	if m, ok := statusTable[status]; ok {
		return autherr.New(m.kind, m.code, m.message)
	}
	return autherr.New(fallback.kind, fallback.code, fallback.message)
}
