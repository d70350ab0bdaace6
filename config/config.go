package config

import (
	"encoding/base64"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to reach the remote backend. The endpoint
// plus the project/database/collection/bucket ids address the books
// collection and the file bucket; the identity endpoints hang off the same
// project.
type Config struct {
	Endpoint     string
	ProjectID    string
	DatabaseID   string
	CollectionID string
	BucketID     string

	HTTPTimeout    time.Duration
	RequestsPerSec float64
	MaxUploadMB    int64
	VerifyURL      string // redirect target for verification mails
	ResetURL       string // redirect target for password-reset mails

	// SessionKey encrypts the session file at rest when set. 32 bytes for
	// AES-256, base64 in env; optional.
	SessionKey []byte
}

// fileConfig is the optional YAML overlay (bookery.yaml). Env always wins.
type fileConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	ProjectID      string  `yaml:"projectId"`
	DatabaseID     string  `yaml:"databaseId"`
	CollectionID   string  `yaml:"collectionId"`
	BucketID       string  `yaml:"bucketId"`
	HTTPTimeoutSec int     `yaml:"httpTimeoutSeconds"`
	RequestsPerSec float64 `yaml:"requestsPerSecond"`
	MaxUploadMB    int64   `yaml:"maxUploadMb"`
	VerifyURL      string  `yaml:"verifyUrl"`
	ResetURL       string  `yaml:"resetUrl"`
}

// ConfigFile is looked up relative to the working directory when present.
const ConfigFile = "bookery.yaml"

func Load() (*Config, error) {
	var fc fileConfig
	if data, err := os.ReadFile(ConfigFile); err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, err
		}
	}

	timeout := 15 * time.Second
	if fc.HTTPTimeoutSec > 0 {
		timeout = time.Duration(fc.HTTPTimeoutSec) * time.Second
	}
	if v := getEnv("BOOKERY_HTTP_TIMEOUT_SECONDS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}

	rps := 10.0
	if fc.RequestsPerSec > 0 {
		rps = fc.RequestsPerSec
	}
	if v := getEnv("BOOKERY_REQUESTS_PER_SECOND", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}

	maxMB := int64(50)
	if fc.MaxUploadMB > 0 {
		maxMB = fc.MaxUploadMB
	}
	if v := getEnv("MAX_UPLOAD_MB", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxMB = n
		}
	}

	var sessionKey []byte
	if k := getEnv("BOOKERY_SESSION_KEY", ""); k != "" {
		sessionKey, _ = base64.StdEncoding.DecodeString(k)
		if len(sessionKey) != 32 {
			log.Println("warning: BOOKERY_SESSION_KEY is not 32 bytes base64; session file will not be encrypted")
			sessionKey = nil
		}
	}

	return &Config{
		Endpoint:       strings.TrimRight(getEnv("BOOKERY_ENDPOINT", fc.Endpoint), "/"),
		ProjectID:      getEnv("BOOKERY_PROJECT_ID", fc.ProjectID),
		DatabaseID:     getEnv("BOOKERY_DATABASE_ID", fc.DatabaseID),
		CollectionID:   getEnv("BOOKERY_COLLECTION_ID", fc.CollectionID),
		BucketID:       getEnv("BOOKERY_BUCKET_ID", fc.BucketID),
		HTTPTimeout:    timeout,
		RequestsPerSec: rps,
		MaxUploadMB:    maxMB,
		VerifyURL:      getEnv("BOOKERY_VERIFY_URL", fc.VerifyURL),
		ResetURL:       getEnv("BOOKERY_RESET_URL", fc.ResetURL),
		SessionKey:     sessionKey,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RequiredKeys must resolve (env or bookery.yaml) or the app refuses to
// start. Missing any of these produces confusing 401/404 responses deep
// inside the gateways, so we fail here instead.
var RequiredKeys = []string{
	"BOOKERY_ENDPOINT",
	"BOOKERY_PROJECT_ID",
	"BOOKERY_DATABASE_ID",
	"BOOKERY_COLLECTION_ID",
	"BOOKERY_BUCKET_ID",
}

// Validate checks the loaded config and reports every missing key at once.
// Calls log.Fatal if any required value is absent.
func (c *Config) Validate() {
	if err := c.Check(); err != nil {
		log.Fatal(err)
	}
	log.Printf("config loaded: endpoint=%s project=%s", c.Endpoint, c.ProjectID)
}

// Check returns the first configuration problem, or nil. Split out from
// Validate so tests can exercise it without exiting the process.
func (c *Config) Check() error {
	resolved := map[string]string{
		"BOOKERY_ENDPOINT":      c.Endpoint,
		"BOOKERY_PROJECT_ID":    c.ProjectID,
		"BOOKERY_DATABASE_ID":   c.DatabaseID,
		"BOOKERY_COLLECTION_ID": c.CollectionID,
		"BOOKERY_BUCKET_ID":     c.BucketID,
	}
	var missing []string
	for _, key := range RequiredKeys {
		if strings.TrimSpace(resolved[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return &MissingKeysError{Keys: nil, Detail: "BOOKERY_ENDPOINT must be an http(s) URL, got " + strconv.Quote(c.Endpoint)}
	}
	return nil
}

// MissingKeysError lists every unresolved required key so the operator can
// fix them in one pass.
type MissingKeysError struct {
	Keys   []string
	Detail string
}

func (e *MissingKeysError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "missing required config: " + strings.Join(e.Keys, ", ") +
		" (set these in .env, the environment, or " + ConfigFile + ")"
}
