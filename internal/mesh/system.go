package mesh

import "fmt"

const apiKeySecret = "ai_api_key"

// Settings are the externally configured values commands may change.
type Settings struct {
	Model string `json:"model"`
}

// KeyStore holds secrets at rest. *vault.Keyring satisfies it.
type KeyStore interface {
	Put(name, value string) error
	Get(name string) (string, error)
}

// SystemStore exposes the AI model and API key to commands and to the AI
// client. Values set at runtime take precedence over configured defaults.
type SystemStore struct {
	doc          document[Settings]
	keys         KeyStore
	defaultModel string
	defaultKey   string
}

func NewSystemStore(p Persister, keys KeyStore, defaultModel, defaultKey string) (*SystemStore, error) {
	s := &SystemStore{
		doc: document[Settings]{
			key:     KeySettings,
			clone:   func(v Settings) Settings { return v },
			persist: p,
		},
		keys:         keys,
		defaultModel: defaultModel,
		defaultKey:   defaultKey,
	}
	if p != nil {
		if _, err := p.LoadState(KeySettings, &s.doc.value); err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
	}
	return s, nil
}

func (s *SystemStore) Model() string {
	if m := s.doc.get().Model; m != "" {
		return m
	}
	return s.defaultModel
}

func (s *SystemStore) SetModel(model string) error {
	return s.doc.update(func(v *Settings) error {
		v.Model = model
		return nil
	})
}

func (s *SystemStore) APIKey() (string, error) {
	if s.keys != nil {
		key, err := s.keys.Get(apiKeySecret)
		if err != nil {
			return "", fmt.Errorf("read api key: %w", err)
		}
		if key != "" {
			return key, nil
		}
	}
	return s.defaultKey, nil
}

// SetAPIKey stores key encrypted; an empty key reverts to the configured one.
func (s *SystemStore) SetAPIKey(key string) error {
	if s.keys == nil {
		return fmt.Errorf("no secret store configured")
	}
	return s.keys.Put(apiKeySecret, key)
}
