package pairing

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// InviteScheme prefixes invite strings.
const InviteScheme = "tasksync"

// Target is where a guest should dial to reach the host advertising Code.
type Target struct {
	Addr string // host:port
	Code Code
}

// Invite is what a host hands to an external renderer (QR code, clipboard):
// the address it listens on and the code it advertises.
type Invite struct {
	Addr string
	Code Code
}

// String renders the invite as tasksync://host:port/CODE.
func (i Invite) String() string {
	u := url.URL{Scheme: InviteScheme, Host: i.Addr, Path: "/" + string(i.Code)}
	return u.String()
}

// Target returns the dial target described by the invite.
func (i Invite) Target() Target {
	return Target(i)
}

// IsInvite reports whether s looks like an invite rather than a bare code.
func IsInvite(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), InviteScheme+"://")
}

// ParseInvite parses the output of Invite.String. The embedded code goes
// through ParseCode, so a transcribed invite is accepted too.
func ParseInvite(s string) (Invite, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if !strings.EqualFold(u.Scheme, InviteScheme) {
		return Invite{}, fmt.Errorf("%w: expected %s:// invite", ErrInvalidCode, InviteScheme)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return Invite{}, fmt.Errorf("%w: invite address %q: %v", ErrInvalidCode, u.Host, err)
	}
	code, err := ParseCode(strings.Trim(u.Path, "/"))
	if err != nil {
		return Invite{}, err
	}
	return Invite{Addr: u.Host, Code: code}, nil
}
