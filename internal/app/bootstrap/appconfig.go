// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like HTTP ports,
// TLS, and logging. Everything specific to the gatekeeper lives here:
// connection strings, the Telegram token, GetCourse credentials, and the
// knobs of the join flow and the notification dispatcher.
//
// Operator-editable policy (group-to-chat mapping, admins, message
// texts, the daily check time) deliberately does NOT live here: it is a
// separate YAML file reloadable at runtime via the /reload command.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Telegram bot API token
	TelegramToken string

	// Path to the reloadable access-policy YAML file
	PolicyPath string

	// GetCourse API access
	GetCourseBaseURL      string
	GetCourseAPIKey       string
	GetCourseGroupIDField string        // export column label for the user's group-id list
	GetCourseGroupWait    time.Duration // how long a group export takes to materialize
	GetCourseUserWait     time.Duration // how long a user export takes to materialize

	// Join flow: how long one attempt waits for the user's email reply
	EmailWaitTimeout time.Duration

	// Deferred-notification dispatcher
	NotifyInterval  time.Duration // queue poll interval
	NotifyTolerance time.Duration // how far ahead of schedule delivery may happen
}
