package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// config is read from CHATGPT_* environment variables.
type config struct {
	Site   string
	Driver string

	Headless    bool
	Minimize    bool
	ProxyServer string
	UserDataDir string
	ExecPath    string

	Email        string
	Password     string
	CaptchaToken string

	Model          string
	Timeout        time.Duration
	BlockResources bool

	MongoURI    string
	SnapshotTTL time.Duration
	SolverURL   string

	LogLevel string
	LogJSON  bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("chatgpt")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("site", "chatgpt")
	v.SetDefault("driver", "chromedp")
	v.SetDefault("headless", false)
	v.SetDefault("minimize", false)
	v.SetDefault("proxy_server", "")
	v.SetDefault("user_data_dir", "")
	v.SetDefault("exec_path", "")
	v.SetDefault("email", "")
	v.SetDefault("password", "")
	v.SetDefault("captcha_token", "")
	v.SetDefault("model", "")
	v.SetDefault("timeout", 2*time.Minute)
	v.SetDefault("block_resources", true)
	v.SetDefault("mongo_uri", "")
	v.SetDefault("snapshot_ttl", 7*24*time.Hour)
	v.SetDefault("solver_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	return v
}

func loadConfig(v *viper.Viper) *config {
	return &config{
		Site:           v.GetString("site"),
		Driver:         strings.ToLower(v.GetString("driver")),
		Headless:       v.GetBool("headless"),
		Minimize:       v.GetBool("minimize"),
		ProxyServer:    v.GetString("proxy_server"),
		UserDataDir:    v.GetString("user_data_dir"),
		ExecPath:       v.GetString("exec_path"),
		Email:          v.GetString("email"),
		Password:       v.GetString("password"),
		CaptchaToken:   v.GetString("captcha_token"),
		Model:          v.GetString("model"),
		Timeout:        v.GetDuration("timeout"),
		BlockResources: v.GetBool("block_resources"),
		MongoURI:       v.GetString("mongo_uri"),
		SnapshotTTL:    v.GetDuration("snapshot_ttl"),
		SolverURL:      v.GetString("solver_url"),
		LogLevel:       v.GetString("log_level"),
		LogJSON:        v.GetBool("log_json"),
	}
}
