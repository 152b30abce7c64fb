package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	IsMaster() bool
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetPerformanceConfig() PerformanceConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetMeetingConfig() MeetingConfig
	GetMessengerConfig() MessengerConfig
	GetEffectiveServerConfig() ServerConfig
	GetRedisDSN() string
	IsDebugMode() bool
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// SystemSettings holds the runtime-tunable engine parameters. They live in the
// system_settings table and are cached through the store; the defaults below
// are written on first start.
type SystemSettings struct {
	// Lifecycle
	MissThreshold int `json:"miss_threshold" default:"3" name:"Miss threshold" category:"lifecycle" desc:"Consecutive misses after which an assignment is released" validate:"required,min=1"`

	// Reconciliation
	ReconcileIntervalMinutes int `json:"reconcile_interval_minutes" default:"2" name:"Reconcile interval" category:"reconcile" desc:"Live reconciliation polling interval in minutes" validate:"required,min=1"`
	CatchupHourUTC           int `json:"catchup_hour_utc" default:"3" name:"Catch-up hour" category:"reconcile" desc:"UTC hour of the daily catch-up reconciliation pass" validate:"min=0,max=23"`
	MinOverlapMinutes        int `json:"min_overlap_minutes" default:"10" name:"Minimum overlap" category:"reconcile" desc:"Minimum participant/slot overlap in minutes to count attendance" validate:"required,min=1"`
	JoinToleranceMinutes     int `json:"join_tolerance_minutes" default:"5" name:"Join tolerance" category:"reconcile" desc:"Tolerance around the slot window when matching join/leave times" validate:"min=0"`
	RetentionHorizonDays     int `json:"retention_horizon_days" default:"365" name:"Provider retention horizon" category:"reconcile" desc:"Windows older than this cannot be reconciled and stay unresolved" validate:"required,min=1"`

	// Reminders
	ReminderScanIntervalSeconds int `json:"reminder_scan_interval_seconds" default:"60" name:"Reminder scan interval" category:"reminders" desc:"Reminder scheduler tick in seconds" validate:"required,min=5"`
	DefaultLeadMinutes          int `json:"default_lead_minutes" default:"30" name:"Default lead time" category:"reminders" desc:"Default reminder lead time in minutes before slot start" validate:"required,min=1"`
	SendRetryCap                int `json:"send_retry_cap" default:"3" name:"Send retry cap" category:"reminders" desc:"Transient send failures tolerated before a dispatch is marked failed" validate:"required,min=0"`

	// Housekeeping
	DispatchRetentionDays int `json:"dispatch_retention_days" default:"90" name:"Dispatch retention" category:"housekeeping" desc:"Days to keep dispatch records before cleanup" validate:"required,min=0"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	IsMaster                bool   `json:"is_master"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// PerformanceConfig represents performance configuration
type PerformanceConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// MeetingConfig holds the external meeting provider settings.
type MeetingConfig struct {
	BaseURL        string `json:"base_url"`
	APIToken       string `json:"-"`
	MeetingID      string `json:"meeting_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MessengerConfig holds the outbound messaging channel settings.
type MessengerConfig struct {
	BaseURL        string `json:"base_url"`
	APIToken       string `json:"-"`
	SenderID       string `json:"sender_id"`
	WebhookSecret  string `json:"-"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}
