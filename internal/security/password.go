package security

import (
	"crypto/subtle"
	"net"
	"strings"
)

// NormalizePassword trims surrounding whitespace from a room password.
func NormalizePassword(p string) string {
	return strings.TrimSpace(p)
}

// PasswordMatch compares a supplied room password against the stored one in
// constant time. The supplied value is trimmed first; an empty stored or
// supplied password never matches.
func PasswordMatch(supplied, stored string) bool {
	supplied = NormalizePassword(supplied)
	if supplied == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}

// ClientIP strips the port from a RemoteAddr ("ip:port" or "[ip]:port").
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
