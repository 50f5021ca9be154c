package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Server struct {
		Addr    string `mapstructure:"addr"`
		TLSAddr string `mapstructure:"tls_addr"`
	} `mapstructure:"server"`
	DB struct {
		Driver   string `mapstructure:"driver"` // postgres, sqlite or memory
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		Path     string `mapstructure:"path"`
	} `mapstructure:"db"`
	LLM struct {
		APIKey      string        `mapstructure:"api_key"`
		BaseURL     string        `mapstructure:"base_url"`
		Model       string        `mapstructure:"model"`
		Temperature float64       `mapstructure:"temperature"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`
	Notion struct {
		APIKey             string        `mapstructure:"api_key"`
		BaseURL            string        `mapstructure:"base_url"`
		Version            string        `mapstructure:"version"`
		TaskDatabaseID     string        `mapstructure:"task_database_id"`
		CalendarDatabaseID string        `mapstructure:"calendar_database_id"`
		Timeout            time.Duration `mapstructure:"timeout"`
	} `mapstructure:"notion"`
	State struct {
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"state"`
	Reminder struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"reminder"`
	Workflows struct {
		File  string `mapstructure:"file"`
		Watch bool   `mapstructure:"watch"`
	} `mapstructure:"workflows"`
	MCP struct {
		Servers []MCPServer `mapstructure:"servers"`
	} `mapstructure:"mcp"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		// SwaggerClientID is a public (PKCE) client used by the docs page.
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Discord struct {
		Token   string `mapstructure:"token"`
		GuildID string `mapstructure:"guild_id"`
	} `mapstructure:"discord"`
	Telegram struct {
		Token          string  `mapstructure:"token"`
		AllowedUserIDs []int64 `mapstructure:"allowed_user_ids"`
	} `mapstructure:"telegram"`
}

// MCPServer describes an external MCP server used as a capability provider.
// Either URL (SSE transport) or Command (stdio transport) must be set.
type MCPServer struct {
	Name        string   `mapstructure:"name"`
	Workflow    string   `mapstructure:"workflow"`
	URL         string   `mapstructure:"url"`
	Command     string   `mapstructure:"command"`
	Args        []string `mapstructure:"args"`
	Description string   `mapstructure:"description"`
}

// LoadConfig loads the configuration from an optional .env file, a config file
// and the environment. Environment variables use "_" in place of ".", so
// llm.api_key is read from LLM_API_KEY.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.DB.Driver = strings.ToLower(strings.TrimSpace(config.DB.Driver))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal even when no config file mentions it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls_addr", ":8443")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "workflows")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "workflow-state.db")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("notion.api_key", "")
	v.SetDefault("notion.base_url", "https://api.notion.com/v1")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.task_database_id", "")
	v.SetDefault("notion.calendar_database_id", "")
	v.SetDefault("notion.timeout", "30s")
	v.SetDefault("state.ttl", "30m")
	v.SetDefault("state.sweep_interval", "5m")
	v.SetDefault("reminder.poll_interval", "30s")
	v.SetDefault("workflows.file", "")
	v.SetDefault("workflows.watch", false)
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.swagger_client_id", "")
	v.SetDefault("tls.enable", false)
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("telegram.token", "")
}

// Validate checks the settings the workflow core cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	if c.State.TTL <= 0 {
		problems = append(problems, "state.ttl must be positive")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite", "memory":
	default:
		problems = append(problems, fmt.Sprintf("db.driver %q is not one of postgres, sqlite, memory", c.DB.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.ToUpper(c.Environment) == "DEV"
}

// Substitutions returns the well-known identifier names a model may emit in
// place of a configured literal, mapped to the literal.
func (c *Config) Substitutions() map[string]string {
	subs := map[string]string{}
	if id := c.Notion.TaskDatabaseID; id != "" {
		subs["taskDbId"] = id
		subs["taskDatabaseId"] = id
		subs["TASK_DB_ID"] = id
		subs["TASK_DATABASE_ID"] = id
	}
	if id := c.Notion.CalendarDatabaseID; id != "" {
		subs["calendarDbId"] = id
		subs["calendarDatabaseId"] = id
		subs["CALENDAR_DB_ID"] = id
		subs["CALENDAR_DATABASE_ID"] = id
	}
	return subs
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	return strings.TrimRight(iss, "/")
}
