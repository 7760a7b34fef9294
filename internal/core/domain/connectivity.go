package domain

import "fmt"

// ConnectivityState classifies network reachability.
type ConnectivityState string

const (
	ConnectivityOnline  ConnectivityState = "online"
	ConnectivityLimited ConnectivityState = "limited"
	ConnectivityOffline ConnectivityState = "offline"
)

// IsConnected reports whether requests may be attempted.
func (s ConnectivityState) IsConnected() bool {
	return s != ConnectivityOffline
}

// ParseConnectivityState parses a state name.
func ParseConnectivityState(s string) (ConnectivityState, error) {
	switch ConnectivityState(s) {
	case ConnectivityOnline, ConnectivityLimited, ConnectivityOffline:
		return ConnectivityState(s), nil
	default:
		return "", fmt.Errorf("invalid connectivity state %q", s)
	}
}
