package push

// Code is an application-level result code from the push provider, extended
// with this service's internal codes for failures the provider never saw.
type Code int

const (
	CodeSuccess Code = 0

	// Provider-defined rejections.
	CodeServerBusy       Code = -1
	CodeMismatchedSecret Code = 40001
	CodeInvalidParam     Code = 40002
	CodeInvalidAppID     Code = 40013
	CodeInvalidAuthCode  Code = 40029
	CodeRateLimited      Code = 45011
	CodeHighRiskUser     Code = 40226

	// Internal codes.
	CodeInvalidJSON    Code = 101
	CodeNetwork        Code = 102
	CodeUnionIDMissing Code = 103
	CodeTokenExpired   Code = 104
	CodeOpenIDMissing  Code = 105
	CodeStorage        Code = 106
	CodeUnknown        Code = 999
)

var codeMessages = map[Code]string{
	CodeSuccess:          "success",
	CodeServerBusy:       "provider server busy",
	CodeMismatchedSecret: "mismatched app secret",
	CodeInvalidParam:     "invalid request param",
	CodeInvalidAppID:     "invalid app id",
	CodeInvalidAuthCode:  "invalid auth code",
	CodeRateLimited:      "request too fast",
	CodeHighRiskUser:     "high risk user",
	CodeInvalidJSON:      "invalid json from provider",
	CodeNetwork:          "network to provider failed",
	CodeUnionIDMissing:   "union id not found",
	CodeTokenExpired:     "access token expired",
	CodeOpenIDMissing:    "open id not found",
	CodeStorage:          "storage error",
	CodeUnknown:          "unknown error",
}

func (c Code) String() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeUnknown]
}

// IsSuccess reports whether the code means the message was accepted.
func (c Code) IsSuccess() bool { return c == CodeSuccess }
