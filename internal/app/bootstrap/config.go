// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for ChatGate.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, telegram_token, etc.
//   - Environment variables: CHATGATE_MONGO_URI, CHATGATE_TELEGRAM_TOKEN, etc.
//   - Command-line flags: --mongo_uri, --telegram_token, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "chatgate", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	{Name: "telegram_token", Default: "", Desc: "Telegram bot API token"},

	{Name: "policy_path", Default: "./access_policy.yaml", Desc: "Path to the access-policy YAML file"},

	// GetCourse API configuration
	{Name: "getcourse_base_url", Default: "", Desc: "GetCourse account API base URL (e.g., https://school.getcourse.ru/pl/api)"},
	{Name: "getcourse_api_key", Default: "", Desc: "GetCourse API key"},
	{Name: "getcourse_group_id_field", Default: "Groups", Desc: "Export column label holding the user's group-id list"},
	{Name: "getcourse_group_wait", Default: "60s", Desc: "Wait for a group export to materialize (e.g., 60s)"},
	{Name: "getcourse_user_wait", Default: "10s", Desc: "Wait for a user export to materialize (e.g., 10s)"},

	// Join flow settings
	{Name: "email_wait_timeout", Default: "2m", Desc: "How long one join attempt waits for the user's email reply"},

	// Deferred-notification dispatcher settings
	{Name: "notify_interval", Default: "10s", Desc: "Pending-notification queue poll interval"},
	{Name: "notify_tolerance", Default: "5s", Desc: "How far ahead of schedule a notification may be delivered"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// It is called early in startup so that both WAFFLE and the app have
// access to configuration before any backends or handlers are built.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, CHATGATE_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "CHATGATE", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		TelegramToken: appValues.String("telegram_token"),

		PolicyPath: appValues.String("policy_path"),

		GetCourseBaseURL:      appValues.String("getcourse_base_url"),
		GetCourseAPIKey:       appValues.String("getcourse_api_key"),
		GetCourseGroupIDField: appValues.String("getcourse_group_id_field"),
		GetCourseGroupWait:    appValues.Duration("getcourse_group_wait", 60*time.Second),
		GetCourseUserWait:     appValues.Duration("getcourse_user_wait", 10*time.Second),

		EmailWaitTimeout: appValues.Duration("email_wait_timeout", 2*time.Minute),

		NotifyInterval:  appValues.Duration("notify_interval", 10*time.Second),
		NotifyTolerance: appValues.Duration("notify_tolerance", 5*time.Second),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// ChatGate validates the MongoDB URI format and requires the credentials
// without which the service cannot do anything useful, so configuration
// errors surface before any connection is attempted.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if appCfg.GetCourseBaseURL == "" {
		return fmt.Errorf("getcourse_base_url is required")
	}
	if appCfg.GetCourseAPIKey == "" {
		return fmt.Errorf("getcourse_api_key is required")
	}
	if appCfg.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}

	return nil
}
