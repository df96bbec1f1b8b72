package email

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendRejectsBadInput(t *testing.T) {
	_, err := Send(context.Background(), Config{Server: "smtp.local", Port: 25}, "not-an-address", "s", "b")
	assert.ErrorContains(t, err, "invalid email address")

	_, err = Send(context.Background(), Config{}, "ops@farm.test", "s", "b")
	assert.ErrorContains(t, err, "missing Email configuration")
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("alerts@farm.test", "ops@farm.test", "[HIGH] Too hot", "line1\nline2", "<id@farm.test>"))

	assert.True(t, strings.HasPrefix(msg, "From: alerts@farm.test\r\nTo: ops@farm.test\r\nSubject: [HIGH] Too hot\r\nMessage-ID: <id@farm.test>\r\n"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\nline1\r\nline2\r\n")
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "farm.test", domainOf("alerts@farm.test"))
	assert.Equal(t, "localhost", domainOf("alerts"))
}
