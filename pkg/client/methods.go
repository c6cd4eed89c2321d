package client

import (
	"errors"
	"fmt"

	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Server status codes reported by GetStatus.
const (
	StatusWaiting         = 1
	StatusLaunching       = 2
	StatusSynchronization = 3
	StatusPlay            = 4
	StatusFinish          = 5
)

// Version is the reply of GetVersion.
type Version struct {
	Name       string `xmlrpc:"Name"`
	Version    string `xmlrpc:"Version"`
	Build      string `xmlrpc:"Build"`
	TitleID    string `xmlrpc:"TitleId"`
	APIVersion string `xmlrpc:"ApiVersion"`
}

// String returns e.g. "TmForever 2.11.26 (2011-02-21_18_00)".
func (v Version) String() string {
	return fmt.Sprintf("%s %s (%s)", v.Name, v.Version, v.Build)
}

// Status is the reply of GetStatus.
type Status struct {
	Code int    `xmlrpc:"Code"`
	Name string `xmlrpc:"Name"`
}

// Playing reports whether a race is running.
func (s Status) Playing() bool {
	return s.Code == StatusPlay
}

// Authenticate logs in with the server's super-admin or admin account.
func (c *Client) Authenticate(login, password string) error {
	if err := c.expectTrue("Authenticate", xmlrpc.String(login), xmlrpc.String(password)); err != nil {
		if errors.Is(err, ErrUnexpectedResult) {
			return ErrAuthRejected
		}
		return err
	}
	return nil
}

// EnableCallbacks asks the server to push (or stop pushing) callbacks.
func (c *Client) EnableCallbacks(enable bool) error {
	return c.expectTrue("EnableCallbacks", xmlrpc.Bool(enable))
}

// GetVersion returns the server's game name, version and build.
func (c *Client) GetVersion() (Version, error) {
	var out Version
	err := c.queryInto(&out, "GetVersion")
	return out, err
}

// GetStatus returns the server's status code and name.
func (c *Client) GetStatus() (Status, error) {
	var out Status
	err := c.queryInto(&out, "GetStatus")
	return out, err
}

// ChatSendServerMessage sends a chat line to every player.
func (c *Client) ChatSendServerMessage(message string) error {
	if err := c.throttle(); err != nil {
		return err
	}
	return c.expectTrue("ChatSendServerMessage", xmlrpc.String(message))
}

// ChatSendServerMessageToLogin sends a chat line to one or more players
// (comma separated logins).
func (c *Client) ChatSendServerMessageToLogin(message, login string) error {
	if err := c.throttle(); err != nil {
		return err
	}
	return c.expectTrue("ChatSendServerMessageToLogin", xmlrpc.String(message), xmlrpc.String(login))
}

// SendDisplayManialinkPage shows a manialink to every player. timeoutMs 0
// keeps it until replaced; hideOnClick hides it after an answer.
func (c *Client) SendDisplayManialinkPage(page string, timeoutMs int, hideOnClick bool) error {
	if err := c.throttle(); err != nil {
		return err
	}
	return c.expectTrue("SendDisplayManialinkPage",
		xmlrpc.String(page), xmlrpc.Int(int64(timeoutMs)), xmlrpc.Bool(hideOnClick))
}

// SendDisplayManialinkPageToLogin shows a manialink to one or more players.
func (c *Client) SendDisplayManialinkPageToLogin(login, page string, timeoutMs int, hideOnClick bool) error {
	if err := c.throttle(); err != nil {
		return err
	}
	return c.expectTrue("SendDisplayManialinkPageToLogin",
		xmlrpc.String(login), xmlrpc.String(page), xmlrpc.Int(int64(timeoutMs)), xmlrpc.Bool(hideOnClick))
}

func (c *Client) throttle() error {
	if c.limiter != nil && !c.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

func (c *Client) expectTrue(method string, args ...xmlrpc.Value) error {
	v, err := c.Query(method, args...)
	if err != nil {
		return err
	}
	if ok, isBool := v.AsBool(); !isBool || !ok {
		return ErrUnexpectedResult
	}
	return nil
}

func (c *Client) queryInto(out any, method string, args ...xmlrpc.Value) error {
	v, err := c.Query(method, args...)
	if err != nil {
		return err
	}
	if err := xmlrpc.Unmarshal(v, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
