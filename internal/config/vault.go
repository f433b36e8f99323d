package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// loadSecretsFromVault fetches the completion-service API key from Vault and
// overrides whatever the file/env layers produced. Vault wins the precedence
// order documented on Config.
func (c *Config) loadSecretsFromVault() error {
	if c.Vault.SecretPath == "" {
		return fmt.Errorf("vault.secretPath is required when Vault is enabled")
	}

	client, err := newVaultClient(c.Vault)
	if err != nil {
		return err
	}

	secret, err := client.Logical().Read(c.Vault.SecretPath)
	if err != nil {
		return fmt.Errorf("failed to read secret %s: %w", c.Vault.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("no secret found at %s", c.Vault.SecretPath)
	}

	data := secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}

	key, ok := data[c.Vault.SecretKey].(string)
	if !ok || key == "" {
		return fmt.Errorf("secret at %s has no usable %q field", c.Vault.SecretPath, c.Vault.SecretKey)
	}

	c.AI.APIKey = strings.TrimSpace(key)
	return nil
}

// newVaultClient creates an authenticated Vault API client.
func newVaultClient(cfg VaultConfig) (*api.Client, error) {
	vaultConfig := api.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, err := resolveVaultToken(cfg)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	return client, nil
}

// resolveVaultToken resolves the Vault token from config, file, or environment.
func resolveVaultToken(cfg VaultConfig) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}

	if cfg.TokenFile != "" {
		raw, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token file %s: %w", cfg.TokenFile, err)
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			return "", fmt.Errorf("vault token file %s is empty", cfg.TokenFile)
		}
		return token, nil
	}

	if token := os.Getenv("VAULT_TOKEN"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf("no vault token configured (set vault.token, vault.tokenFile, or VAULT_TOKEN)")
}
