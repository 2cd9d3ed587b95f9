// Package credential resolves secrets from the OS keyring so mailbox and
// generation credentials can stay out of config files.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"mailpilot/internal/model"
)

// Keyring entry keys for the application's secrets.
const (
	KeyIMAPPassword = "imap_password"
	KeySMTPPassword = "smtp_password"
	KeyLLMAPIKey    = "llm_api_key"
)

// ValidKeys lists the secret names the daemon reads at startup.
func ValidKeys() []string {
	return []string{KeyIMAPPassword, KeySMTPPassword, KeyLLMAPIKey}
}

// ValidateKey rejects key names the daemon would never look up, so a
// typo on the command line fails loudly instead of storing an orphan.
func ValidateKey(key string) error {
	for _, known := range ValidKeys() {
		if key == known {
			return nil
		}
	}
	return fmt.Errorf("unknown secret key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
}

// ServiceName returns the keyring service name from the configuration,
// falling back to the application default.
func ServiceName(cfg *model.AppConfig) string {
	if cfg.Keyring.ServiceName != "" {
		return cfg.Keyring.ServiceName
	}
	return "mailpilot"
}

// openKeyring returns a configured keyring instance.
func openKeyring(serviceName string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailpilot/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailpilot-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a secret by key. Returns an empty string when the key is
// not stored.
func Get(serviceName, key string) (string, error) {
	ring, err := openKeyring(serviceName)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from keyring: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret under the given key.
func Set(serviceName, key, value string) error {
	ring, err := openKeyring(serviceName)
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Label: "mailpilot " + key,
		Data:  []byte(value),
	})
	if err != nil {
		return fmt.Errorf("storing %s in keyring: %w", key, err)
	}

	return nil
}

// Delete removes a stored secret. Missing keys are not an error.
func Delete(serviceName, key string) error {
	ring, err := openKeyring(serviceName)
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing %s from keyring: %w", key, err)
	}

	return nil
}

// FillSecrets resolves any secret left empty in the configuration from
// the OS keyring. Values already present in config win.
func FillSecrets(cfg *model.AppConfig) error {
	service := ServiceName(cfg)

	fill := func(target *string, key string) error {
		if *target != "" {
			return nil
		}
		value, err := Get(service, key)
		if err != nil {
			return err
		}
		*target = value
		return nil
	}

	if err := fill(&cfg.IMAP.Password, KeyIMAPPassword); err != nil {
		return err
	}
	if err := fill(&cfg.SMTP.Password, KeySMTPPassword); err != nil {
		return err
	}
	if err := fill(&cfg.LLM.APIKey, KeyLLMAPIKey); err != nil {
		return err
	}

	return nil
}
