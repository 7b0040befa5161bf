package site

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlProfile is the YAML structure for site profiles.
type yamlProfile struct {
	Name                string        `yaml:"name"`
	BaseURL             string        `yaml:"base_url"`
	LoginURL            string        `yaml:"login_url"`
	SessionURL          string        `yaml:"session_url"`
	ConversationURL     string        `yaml:"conversation_url"`
	ConversationPattern string        `yaml:"conversation_pattern"`
	Model               string        `yaml:"model"`
	Cookies             yamlCookies   `yaml:"cookies"`
	Selectors           yamlSelectors `yaml:"selectors"`
	Capacity            yamlCapacity  `yaml:"capacity"`
}

type yamlCookies struct {
	Clearance string `yaml:"clearance"`
	Session   string `yaml:"session"`
}

type yamlSelectors struct {
	Loaded           string `yaml:"loaded"`
	Ready            string `yaml:"ready"`
	LoginButton      string `yaml:"login_button"`
	Email            string `yaml:"email"`
	EmailSubmit      string `yaml:"email_submit"`
	Password         string `yaml:"password"`
	PasswordSubmit   string `yaml:"password_submit"`
	Challenge        string `yaml:"challenge"`
	ChallengeSiteKey string `yaml:"challenge_site_key"`
}

type yamlCapacity struct {
	Text     string   `yaml:"text"`
	Interval duration `yaml:"interval"`
	Retries  int      `yaml:"retries"`
}

// duration is a wrapper for time.Duration that handles YAML parsing.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// Loader loads site profiles into a registry.
type Loader struct {
	registry *Registry
}

// NewLoader creates a new profile loader that populates the given registry.
func NewLoader(registry *Registry) *Loader {
	return &Loader{registry: registry}
}

// LoadFromFS loads every YAML file in the "sites" directory of fsys.
func (l *Loader) LoadFromFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, "sites")
	if err != nil {
		return fmt.Errorf("failed to read sites directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		if err := l.loadFile(fsys, "sites/"+entry.Name()); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) loadFile(fsys fs.FS, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read site file %s: %w", path, err)
	}

	profile, err := Parse(data)
	if err != nil {
		return fmt.Errorf("site file %s: %w", path, err)
	}

	l.registry.Register(profile)
	return nil
}

// Parse decodes and validates a single YAML profile.
func Parse(data []byte) (*Profile, error) {
	var yp yamlProfile
	if err := yaml.Unmarshal(data, &yp); err != nil {
		return nil, fmt.Errorf("failed to parse site profile: %w", err)
	}

	p := &Profile{
		Name:                yp.Name,
		BaseURL:             yp.BaseURL,
		LoginURL:            yp.LoginURL,
		SessionURL:          yp.SessionURL,
		ConversationURL:     yp.ConversationURL,
		ConversationPattern: yp.ConversationPattern,
		Model:               yp.Model,
		Cookies: CookieNames{
			Clearance: yp.Cookies.Clearance,
			Session:   yp.Cookies.Session,
		},
		Selectors: Selectors{
			Loaded:           yp.Selectors.Loaded,
			Ready:            yp.Selectors.Ready,
			LoginButton:      yp.Selectors.LoginButton,
			Email:            yp.Selectors.Email,
			EmailSubmit:      yp.Selectors.EmailSubmit,
			Password:         yp.Selectors.Password,
			PasswordSubmit:   yp.Selectors.PasswordSubmit,
			Challenge:        yp.Selectors.Challenge,
			ChallengeSiteKey: yp.Selectors.ChallengeSiteKey,
		},
		Capacity: Capacity{
			Text:     yp.Capacity.Text,
			Interval: time.Duration(yp.Capacity.Interval),
			Retries:  yp.Capacity.Retries,
		},
	}
	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
