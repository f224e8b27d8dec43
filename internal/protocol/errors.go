package protocol

import (
	"fmt"
	"strconv"
)

// EA error codes surfaced to clients in error packets.
const (
	CodeOK                     = 0
	CodeTooYoung               = -165
	CodeLoginErrorHeading      = 21
	CodeAuthFail               = 100
	CodeNotFound               = 101
	CodeDisabled               = 102
	CodeBanned                 = 103
	CodeNoData                 = 104
	CodePending                = 105
	CodeTentative              = 107
	CodeParentalVerification   = 108
	CodeNotEntitled            = 120
	CodeTooManyAttempts        = 121
	CodeInvalidPassword        = 122
	CodeNotRegistered          = 123
	CodeTooManyPassRecov       = 140
	CodeTooManyNameRecov       = 141
	CodeEmailNotFound          = 142
	CodePasswordNotFound       = 143
	CodeNameInUse              = 160
	CodeEmailBlocked           = 161
	CodePasswordNotChanged     = 162
	CodeTooManyPersonas        = 163
	CodeRegCodeAlreadyInUse    = 180
	CodeInvalidRegCode         = 181
	CodeAccountAlreadyEntitled = 182
	CodeAccountDeactivated     = 250
	CodeNewTos                 = 260
)

// Error is a protocol-visible failure carrying the numeric code to emit
// in the error packet. Message, when set, overrides the default
// localizedMessage text.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("protocol error %d", e.Code)
}

// NewError creates a protocol error with the default message.
func NewError(code int) *Error {
	return &Error{Code: code}
}

// NewErrorMsg creates a protocol error with an explicit client message.
func NewErrorMsg(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// ErrorPacket builds the error response for a failed request. FESL
// requests carrying a TXN get the TXN and packet id copied; everything
// else gets a bare error payload with packet id zero.
func ErrorPacket(req *Packet, code int, message string) *Packet {
	data := NewDict()
	var id uint32
	if IsFeslCategory(req.Category) && req.Data.Has("TXN") {
		data.Set("TXN", req.Data.Get("TXN"))
		id = req.ID
	}

	if message != "" {
		data.Set("localizedMessage", message)
	} else {
		data.Set("localizedMessage", "ErrorCode:"+strconv.Itoa(code))
	}
	data.Set("errorCode", strconv.Itoa(code))
	data.Set("errorContainer.[]", "0")

	return &Packet{
		Category: req.Category,
		Mode:     ResponseMode(req.Mode),
		ID:       id,
		Data:     data,
	}
}
