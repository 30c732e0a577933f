package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scop-orders/parser"
)

// Portal describes the SCOP portal endpoints and page contracts.
type Portal struct {
	LoginURL    string
	QueryURL    string
	QueryAction string
	DetailURL   string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	// LoginErrorMarker is a substring of the URL the portal redirects to on a rejected login.
	LoginErrorMarker string

	ChallengeSiteKey string
	ChallengeAction  string
	ChallengeField   string

	ActivationPredicate string
	ActivationScript    string
	ActivationSettle    time.Duration

	ResultsSelector string
	UserAgent       string
}

// Timeouts bounds every wait performed against the portal.
type Timeouts struct {
	Navigation time.Duration
	Selector   time.Duration
	Submit     time.Duration
	Activation time.Duration
	Results    time.Duration
	Detail     time.Duration
	Challenge  time.Duration
	Query      time.Duration
}

// Config holds service configuration.
type Config struct {
	MaxSessions     int
	SessionPolicy   string // close or reuse
	MaxDetails      int    // 0 means no limit
	ShowFullDetails bool
	SaveScreenshots bool
	RestartInterval time.Duration
	FixtureMode     bool
	StartDate       string // DD/MM/YYYY
	DefaultSiteKey  string
	CredentialsFile string

	Addr string

	ShowBrowser     bool
	SlowMo          time.Duration
	ExecutablePath  string
	LightMode       bool
	DetailFetchMode string // browser or http

	ResultCacheTTL  time.Duration
	ResultCacheSize int

	MaxAttempts           int
	FirstRunExtraAttempts int
	RetryBackoff          time.Duration
	RetryBackoffMax       time.Duration

	OutputFile         string
	OutputFormat       string // csv, json, or dual
	Parallelism        int
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int

	Verbose bool

	Portal   Portal
	Timeouts Timeouts
}

// DefaultPortal returns the production portal contract.
func DefaultPortal() Portal {
	return Portal{
		LoginURL:            "https://pvo.osinergmin.gob.pe/seguridad/login",
		QueryURL:            "https://pvo.osinergmin.gob.pe/scopglp3/jsp/consultas/consulta_orden_pedido.jsp",
		QueryAction:         "/scopglp3/servlet/com.osinerg.scopglp.servlets.ConsultaOrdenPedidoServlet",
		DetailURL:           "https://pvo.osinergmin.gob.pe/scopglp3/servlet/com.osinerg.scopglp.servlets.ConsultaOrdenPedidoServlet",
		UsernameSelector:    `input[name="j_username"]`,
		PasswordSelector:    `input[name="j_password"]`,
		SubmitSelector:      `button[type="submit"]`,
		LoginErrorMarker:    "login?error=UP",
		ChallengeSiteKey:    "6LeAU68UAAAAACp0Ci8TvE5lTITDDRQcqnp4lHuD",
		ChallengeAction:     "login",
		ChallengeField:      "g-recaptcha-response",
		ActivationPredicate: `typeof muestraPagina === "function"`,
		ActivationScript:    `() => muestraPagina('163', 'NO', 'NO')`,
		ActivationSettle:    500 * time.Millisecond,
		ResultsSelector:     parser.ResultsTableSelector,
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	}
}

// DefaultConfig returns the service defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:           20,
		SessionPolicy:         "close",
		MaxDetails:            0,
		RestartInterval:       0,
		StartDate:             "01/01/2020",
		CredentialsFile:       "pass.json",
		Addr:                  ":3000",
		DetailFetchMode:       "browser",
		ResultCacheTTL:        0,
		ResultCacheSize:       256,
		MaxAttempts:           2,
		FirstRunExtraAttempts: 1,
		RetryBackoff:          500 * time.Millisecond,
		RetryBackoffMax:       5 * time.Second,
		OutputFile:            "output/orders.csv",
		OutputFormat:          "csv",
		Parallelism:           4,
		PipelineBufferSize:    256,
		BatchSize:             50,
		DedupeMaxSize:         10000,
		Portal:                DefaultPortal(),
		Timeouts: Timeouts{
			Navigation: 30 * time.Second,
			Selector:   8 * time.Second,
			Submit:     30 * time.Second,
			Activation: 10 * time.Second,
			Results:    8 * time.Second,
			Detail:     20 * time.Second,
			Challenge:  8 * time.Second,
			Query:      3 * time.Minute,
		},
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive")
	}
	if c.SessionPolicy != "close" && c.SessionPolicy != "reuse" {
		return fmt.Errorf("session policy must be close or reuse")
	}
	if c.MaxDetails < 0 {
		return fmt.Errorf("max details cannot be negative")
	}
	if c.RestartInterval < 0 {
		return fmt.Errorf("restart interval cannot be negative")
	}
	if !parser.IsValidDateFormat(c.StartDate) {
		return fmt.Errorf("start date %q must be DD/MM/YYYY", c.StartDate)
	}
	if c.DefaultSiteKey != "" && !isSiteKey(c.DefaultSiteKey) {
		return fmt.Errorf("default site key %q must be numeric", c.DefaultSiteKey)
	}
	if !c.FixtureMode && c.CredentialsFile == "" {
		return fmt.Errorf("credentials file cannot be empty")
	}
	if c.SlowMo < 0 {
		return fmt.Errorf("slow-mo cannot be negative")
	}
	if c.DetailFetchMode != "browser" && c.DetailFetchMode != "http" {
		return fmt.Errorf("detail fetch mode must be browser or http")
	}
	if c.ResultCacheTTL < 0 {
		return fmt.Errorf("result cache ttl cannot be negative")
	}
	if c.ResultCacheTTL > 0 && c.ResultCacheSize <= 0 {
		return fmt.Errorf("result cache size must be positive when caching is enabled")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.FirstRunExtraAttempts < 0 {
		return fmt.Errorf("first run extra attempts cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if err := c.Portal.validate(); err != nil {
		return err
	}
	return c.Timeouts.validate()
}

func (p Portal) validate() error {
	for name, raw := range map[string]string{
		"login URL":  p.LoginURL,
		"query URL":  p.QueryURL,
		"detail URL": p.DetailURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}
	if p.UsernameSelector == "" || p.PasswordSelector == "" || p.SubmitSelector == "" {
		return fmt.Errorf("login selectors cannot be empty")
	}
	if p.LoginErrorMarker == "" {
		return fmt.Errorf("login error marker cannot be empty")
	}
	if p.ResultsSelector == "" {
		return fmt.Errorf("results selector cannot be empty")
	}
	return nil
}

func (t Timeouts) validate() error {
	for name, d := range map[string]time.Duration{
		"navigation": t.Navigation,
		"selector":   t.Selector,
		"submit":     t.Submit,
		"activation": t.Activation,
		"results":    t.Results,
		"detail":     t.Detail,
		"challenge":  t.Challenge,
		"query":      t.Query,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}
	return nil
}

// PadSiteKey zero-pads a numeric site key to three digits.
func PadSiteKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) >= 3 {
		return key
	}
	return strings.Repeat("0", 3-len(key)) + key
}

func isSiteKey(key string) bool {
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return key != ""
}
