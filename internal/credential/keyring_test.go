package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mailpilot/internal/model"
)

func TestValidateKey(t *testing.T) {
	for _, key := range ValidKeys() {
		assert.NoError(t, ValidateKey(key))
	}

	err := ValidateKey("imap-password")
	assert.ErrorContains(t, err, "unknown secret key")
	assert.ErrorContains(t, err, KeyIMAPPassword)

	assert.Error(t, ValidateKey(""))
}

func TestServiceName(t *testing.T) {
	cfg := &model.AppConfig{}
	assert.Equal(t, "mailpilot", ServiceName(cfg))

	cfg.Keyring.ServiceName = "mailpilot-staging"
	assert.Equal(t, "mailpilot-staging", ServiceName(cfg))
}
