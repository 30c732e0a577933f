package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scop-orders/models"
)

type credentialFile struct {
	Locales map[string]struct {
		Username string `yaml:"OSINERGMIN_USERNAME"`
		Password string `yaml:"OSINERGMIN_PASSWORD"`
	} `yaml:"locales"`
}

// CredentialStore resolves portal credentials by site key. It is read-only
// after loading.
type CredentialStore struct {
	bySite map[string]models.Credentials
}

// LoadCredentials reads a credentials file. Both the JSON pass file and its
// YAML equivalent are accepted.
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes a credentials document.
func ParseCredentials(data []byte) (*CredentialStore, error) {
	var raw credentialFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	store := &CredentialStore{bySite: make(map[string]models.Credentials, len(raw.Locales))}
	for key, entry := range raw.Locales {
		site := PadSiteKey(key)
		if entry.Username == "" || entry.Password == "" {
			return nil, fmt.Errorf("credentials for site %s are incomplete", site)
		}
		store.bySite[site] = models.Credentials{
			SiteKey:  site,
			Username: entry.Username,
			Password: entry.Password,
		}
	}
	return store, nil
}

// Lookup returns the credentials for siteKey after zero-padding it to three digits.
func (s *CredentialStore) Lookup(siteKey string) (models.Credentials, bool) {
	if s == nil {
		return models.Credentials{}, false
	}
	creds, ok := s.bySite[PadSiteKey(siteKey)]
	return creds, ok
}

// SiteKeys lists the configured site keys in order.
func (s *CredentialStore) SiteKeys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.bySite))
	for k := range s.bySite {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
