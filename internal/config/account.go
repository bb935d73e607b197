package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Account is the per-account account.toml.
type Account struct {
	Addr        string `toml:"addr"`
	DisplayName string `toml:"display_name"`

	IMAP IMAP `toml:"imap"`
	SMTP SMTP `toml:"smtp"`

	// BccSelf sends outgoing mail to our own address too, so other devices
	// see it. Defaults to true.
	BccSelf *bool `toml:"bcc_self"`

	// DownloadLimit in bytes; larger messages are fetched partially. 0 means unlimited.
	DownloadLimit uint32 `toml:"download_limit"`

	// DeleteServerAfter in seconds. Unset means never, 0 means at once.
	DeleteServerAfter *int64 `toml:"delete_server_after"`
	// DeleteDeviceAfter in seconds. Unset means never.
	DeleteDeviceAfter *int64 `toml:"delete_device_after"`
}

// IMAP holds the incoming server settings.
type IMAP struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	TLS          *bool    `toml:"tls"`
	Folder       string   `toml:"folder"`
	PollInterval Duration `toml:"poll_interval"`
}

// SMTP holds the outgoing server settings.
type SMTP struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	StartTLS *bool  `toml:"starttls"`
}

// Duration is a time.Duration decoded from strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

const (
	DefaultIMAPPort     = 993
	DefaultSMTPPort     = 587
	DefaultFolder       = "INBOX"
	DefaultPollInterval = 60 * time.Second
)

// LoadAccount reads and validates an account.toml, applying defaults.
func LoadAccount(path string) (*Account, error) {
	var a Account
	if _, err := toml.DecodeFile(path, &a); err != nil {
		return nil, err
	}
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &a, nil
}

// SaveAccount writes an account.toml with 0600 permissions.
func SaveAccount(path string, a *Account) error {
	return writeTOML(path, a)
}

// ApplyDefaults fills unset ports, TLS modes and intervals.
func (a *Account) ApplyDefaults() {
	a.Addr = strings.ToLower(strings.TrimSpace(a.Addr))
	if a.IMAP.Port == 0 {
		a.IMAP.Port = DefaultIMAPPort
	}
	if a.IMAP.TLS == nil {
		a.IMAP.TLS = boolPtr(true)
	}
	if a.IMAP.Folder == "" {
		a.IMAP.Folder = DefaultFolder
	}
	if a.IMAP.PollInterval.Duration <= 0 {
		a.IMAP.PollInterval.Duration = DefaultPollInterval
	}
	if a.IMAP.Username == "" {
		a.IMAP.Username = a.Addr
	}
	if a.SMTP.Port == 0 {
		a.SMTP.Port = DefaultSMTPPort
	}
	if a.SMTP.StartTLS == nil {
		a.SMTP.StartTLS = boolPtr(a.SMTP.Port != 465)
	}
	if a.SMTP.Username == "" {
		a.SMTP.Username = a.IMAP.Username
	}
	if a.SMTP.Password == "" {
		a.SMTP.Password = a.IMAP.Password
	}
	if a.BccSelf == nil {
		a.BccSelf = boolPtr(true)
	}
}

// Validate checks that the account can connect.
func (a *Account) Validate() error {
	var errs []error
	if a.Addr == "" || !strings.Contains(a.Addr, "@") {
		errs = append(errs, fmt.Errorf("addr %q is not an email address", a.Addr))
	}
	if a.IMAP.Host == "" {
		errs = append(errs, errors.New("imap.host is required"))
	}
	if a.SMTP.Host == "" {
		errs = append(errs, errors.New("smtp.host is required"))
	}
	if a.DeleteServerAfter != nil && *a.DeleteServerAfter < 0 {
		errs = append(errs, errors.New("delete_server_after must not be negative"))
	}
	if a.DeleteDeviceAfter != nil && *a.DeleteDeviceAfter <= 0 {
		errs = append(errs, errors.New("delete_device_after must be positive"))
	}
	return errors.Join(errs...)
}

// Domain returns the part of Addr after the @.
func (a *Account) Domain() string {
	if i := strings.LastIndexByte(a.Addr, '@'); i >= 0 {
		return a.Addr[i+1:]
	}
	return "localhost"
}

func boolPtr(b bool) *bool { return &b }
