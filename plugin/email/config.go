package email

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
)

// Config represents the Resend configuration for email sending.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Timeout bounds each API request. DefaultTimeout applies when unset.
	Timeout time.Duration
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("resend API key is required")
	}
	if c.FromEmail == "" {
		return errors.New("from email is required")
	}
	if _, err := mail.ParseAddress(c.FromEmail); err != nil {
		return errors.Wrapf(err, "invalid from email %q", c.FromEmail)
	}
	return nil
}

// Sender returns the From header value.
func (c *Config) Sender() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
}
