package netcode

import (
	"encoding/json"
)

// ConnectStatus is the single vocabulary for connection outcomes. It is
// published locally to observers and carried on the wire as the disconnect
// reason, so the names here are a wire contract.
type ConnectStatus byte

const (
	StatusUndefined ConnectStatus = iota
	StatusSuccess
	StatusServerFull
	StatusLoggedInAgain
	StatusUserRequestedDisconnect
	StatusGenericDisconnect
	StatusReconnecting
	StatusIncompatibleBuildType
	StatusHostEndedSession
	StatusStartHostFailed
	StatusStartClientFailed
)

var statusNames = map[ConnectStatus]string{
	StatusUndefined:               "Undefined",
	StatusSuccess:                 "Success",
	StatusServerFull:              "ServerFull",
	StatusLoggedInAgain:           "LoggedInAgain",
	StatusUserRequestedDisconnect: "UserRequestedDisconnect",
	StatusGenericDisconnect:       "GenericDisconnect",
	StatusReconnecting:            "Reconnecting",
	StatusIncompatibleBuildType:   "IncompatibleBuildType",
	StatusHostEndedSession:        "HostEndedSession",
	StatusStartHostFailed:         "StartHostFailed",
	StatusStartClientFailed:       "StartClientFailed",
}

var statusValues = func() map[string]ConnectStatus {
	values := make(map[string]ConnectStatus)
	for status, name := range statusNames {
		values[name] = status
	}
	return values
}()

func (s ConnectStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Undefined"
}

// EncodeReason renders the status as the wire disconnect reason: a JSON
// string scalar. StatusUndefined never appears on the wire and encodes to
// the empty reason.
func (s ConnectStatus) EncodeReason() string {
	if s == StatusUndefined {
		return ""
	}
	encoded, err := json.Marshal(s.String())
	if err != nil {
		return ""
	}
	return string(encoded)
}

// DecodeReason parses a wire disconnect reason. The second return is false
// when the reason is empty, meaning the transport gave no reason at all.
// A malformed non-empty reason decodes to StatusGenericDisconnect.
func DecodeReason(raw string) (ConnectStatus, bool) {
	if raw == "" {
		return StatusUndefined, false
	}

	var name string
	if err := json.Unmarshal([]byte(raw), &name); err != nil {
		return StatusGenericDisconnect, true
	}

	status, ok := statusValues[name]
	if !ok || status == StatusUndefined {
		return StatusGenericDisconnect, true
	}

	return status, true
}

// The authoritative rejections: a server that sent one of these does not
// want this peer back, so reconnecting must not retry past them.
func isNonRetryable(status ConnectStatus) bool {
	switch status {
	case StatusUserRequestedDisconnect,
		StatusHostEndedSession,
		StatusServerFull,
		StatusLoggedInAgain,
		StatusIncompatibleBuildType:
		return true
	}
	return false
}
