package config

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type Mongo struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"taskmarket"`
	// ReplicaSet is required for transactions.
	ReplicaSet string `yaml:"replica_set" env-default:""`
}

// Directory selects where executor profiles (role, trust level, location) come from.
type Directory struct {
	Driver   string `yaml:"driver" env-default:"store"`
	HostName string `yaml:"hostname" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"3306"`
	UserName string `yaml:"username" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:""`
	Prefix   string `yaml:"prefix" env-default:""`
}

type Telegram struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	ApiKey   string `yaml:"api_key" env-default:""`
	BotName  string `yaml:"bot_name" env-default:""`
	LinkTTL  int    `yaml:"link_ttl_min" env-default:"30"`
	LogLevel string `yaml:"log_level" env-default:"error"`
}

type Smtp struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:""`
	Port     string `yaml:"port" env-default:"587"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	From     string `yaml:"from" env-default:""`
	Brand    string `yaml:"brand" env-default:"Taskmarket"`
}

type Sms struct {
	Enabled bool   `yaml:"enabled" env-default:"false"`
	Url     string `yaml:"url" env-default:""`
	ApiKey  string `yaml:"api_key" env-default:""`
	Sender  string `yaml:"sender" env-default:""`
}

type Verification struct {
	// Mode is "cascade" or "bypass"; bypass is accepted only with env=local.
	Mode            string        `yaml:"mode" env-default:"cascade"`
	CodeTTL         time.Duration `yaml:"code_ttl" env-default:"2m"`
	SessionLifetime time.Duration `yaml:"session_lifetime" env-default:"10m"`
}

type Quota struct {
	Novice      int    `yaml:"novice" env-default:"3"`
	Verified    int    `yaml:"verified" env-default:"10"`
	Referral    int    `yaml:"referral" env-default:"20"`
	Top         int    `yaml:"top" env-default:"50"`
	PerPlatform int    `yaml:"per_platform" env-default:"5"`
	TimeZone    string `yaml:"time_zone" env-default:"UTC"`
}

type Auth struct {
	Secret   string        `yaml:"secret" env-default:""`
	TokenTTL time.Duration `yaml:"token_ttl" env-default:"720h"`
}

type Config struct {
	Env          string       `yaml:"env" env-default:"local"`
	Listen       Listen       `yaml:"listen"`
	Mongo        Mongo        `yaml:"mongo"`
	Directory    Directory    `yaml:"directory"`
	Telegram     Telegram     `yaml:"telegram"`
	Smtp         Smtp         `yaml:"smtp"`
	Sms          Sms          `yaml:"sms"`
	Verification Verification `yaml:"verification"`
	Quota        Quota        `yaml:"quota"`
	Auth         Auth         `yaml:"auth"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if err = instance.Validate(); err != nil {
			log.Fatal(fmt.Errorf("config: %w", err))
		}
	})
	return instance
}

// Validate rejects combinations that must never reach a running server.
func (c *Config) Validate() error {
	switch c.Verification.Mode {
	case "cascade":
	case "bypass":
		if c.Env != "local" {
			return fmt.Errorf("verification.mode=bypass is allowed only with env=local, got env=%s", c.Env)
		}
	default:
		return fmt.Errorf("verification.mode must be cascade or bypass, got %q", c.Verification.Mode)
	}
	switch c.Directory.Driver {
	case "store", "mysql":
	default:
		return fmt.Errorf("directory.driver must be store or mysql, got %q", c.Directory.Driver)
	}
	if c.Auth.Secret == "" && c.Env != "local" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Quota.Novice <= 0 || c.Quota.Verified <= 0 || c.Quota.Referral <= 0 || c.Quota.Top <= 0 || c.Quota.PerPlatform <= 0 {
		return fmt.Errorf("quota ceilings must be positive")
	}
	if _, err := time.LoadLocation(c.Quota.TimeZone); err != nil {
		return fmt.Errorf("quota.time_zone: %w", err)
	}
	return nil
}
