package push

import "fmt"

// Session is the identity-provider result of exchanging an authorization code.
type Session struct {
	OpenID     string
	SessionKey string
	UnionID    string
}

// Value wraps a template field the way the provider expects it.
type Value struct {
	Value string `json:"value"`
}

// SubscribeMessage is the body POSTed to the provider's subscribe-send
// endpoint.
type SubscribeMessage struct {
	TemplateID string           `json:"template_id"`
	ToUser     string           `json:"touser"`
	Data       map[string]Value `json:"data"`
	State      string           `json:"miniprogram_state"`
	Lang       string           `json:"lang"`
}

// TemplateData builds the title/date field map used by the notify template.
func TemplateData(title, date string) map[string]Value {
	return map[string]Value{
		"thing2": {Value: title},
		"date5":  {Value: date},
	}
}

// APIError carries a non-success application-level code from the provider.
type APIError struct {
	Code Code
	Msg  string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("push: provider errcode %d: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("push: provider errcode %d: %s", e.Code, e.Code)
}

// Provider wire shapes -----------------------------------------------------

type code2SessionResponse struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
	ErrCode    *int   `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ErrCode     *int   `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type sendResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}
