package docstring

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/oliversen/chatgpt-docstrings/framework"
	"github.com/oliversen/chatgpt-docstrings/persistence"
)

const (
	apiKeySecretID = "apiKey"

	// APIKeyPrompt is shown when asking the user for a key.
	APIKeyPrompt = "Please enter your API key. You can get the key here: https://platform.openai.com/account/api-keys"
)

// Prompter asks the user for a secret value. An empty result means the user
// declined.
type Prompter interface {
	PromptSecret(ctx context.Context, prompt string) (string, error)
}

// APIKey resolves the OpenAI key used by generate requests. The resolved key
// is kept in memory until Invalidate or Set replaces it.
type APIKey struct {
	Store      persistence.SecretStore
	Prompter   Prompter
	Notifier   Notifier
	Telemetry  *framework.Reporter
	Logger     *log.Logger
	ServerName string
	OpenOutput func(ctx context.Context)

	mu     sync.Mutex
	cached string
}

// Get returns the cached key, then the stored key, and finally prompts the
// user. A store failure is reported and falls through to the prompt.
func (k *APIKey) Get(ctx context.Context) string {
	k.mu.Lock()
	cached := k.cached
	k.mu.Unlock()
	if cached != "" {
		return cached
	}

	if k.Store != nil {
		key, err := k.Store.Get(ctx, apiKeySecretID)
		if err != nil {
			k.storeFailed(ctx, "getApiKeyError", "Failed to get API Key from secret storage", err)
		} else if key != "" {
			k.mu.Lock()
			k.cached = key
			k.mu.Unlock()
			return key
		}
	}
	return k.Set(ctx)
}

// Set prompts for a new key. A non-empty answer replaces the cached key and
// is persisted; the answer is returned even if persisting fails.
func (k *APIKey) Set(ctx context.Context) string {
	if k.Prompter == nil {
		return ""
	}
	key, err := k.Prompter.PromptSecret(ctx, APIKeyPrompt)
	if err != nil {
		k.logger().Debug("api key prompt aborted", "err", err)
		return ""
	}
	if key == "" {
		return ""
	}

	k.mu.Lock()
	k.cached = key
	k.mu.Unlock()

	if k.Store != nil {
		if err := k.Store.Store(ctx, apiKeySecretID, key); err != nil {
			k.storeFailed(ctx, "saveApiKeyError", "Failed to save API Key to secret storage", err)
		}
	}
	return key
}

// Invalidate forgets the cached key so the next Get reads the store again.
func (k *APIKey) Invalidate() {
	k.mu.Lock()
	k.cached = ""
	k.mu.Unlock()
}

// Forget invalidates the cached key and removes the stored one.
func (k *APIKey) Forget(ctx context.Context) error {
	k.Invalidate()
	if k.Store == nil {
		return nil
	}
	return k.Store.Delete(ctx, apiKeySecretID)
}

func (k *APIKey) storeFailed(ctx context.Context, event, summary string, err error) {
	k.logger().Warn(summary, "err", err)
	k.Telemetry.SendError(event, framework.ErrorData(err))
	if k.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s! See '%s' output channel for details.", summary, k.ServerName)
	if k.Notifier.Notify(ctx, framework.SeverityWarning, msg, ActionOpenOutput) == ActionOpenOutput && k.OpenOutput != nil {
		k.OpenOutput(ctx)
	}
}

func (k *APIKey) logger() *log.Logger {
	if k.Logger == nil {
		return log.Default()
	}
	return k.Logger
}
