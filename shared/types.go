package shared

import (
	"errors"
	"strconv"
)

type ServerConfig struct {
	Sqlite   SqliteConfig   `mapstructure:"sqlite" validate:"required"`
	SheGuard SheGuardConfig `mapstructure:"sheguard" validate:"required"`
	Google   GoogleConfig   `mapstructure:"google"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Smtp     SmtpConfig     `mapstructure:"smtp"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Otp      OtpConfig      `mapstructure:"otp"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase" validate:"required"`
}

type SheGuardConfig struct {
	PrivateKeyPem string         `mapstructure:"privateKeyPem"`
	Cron          CronConfig     `mapstructure:"cron" validate:"required"`
	Listener      ListenerConfig `mapstructure:"listener" validate:"required"`

	// ExposeOtp returns issued OTP codes in API responses. Dev only.
	ExposeOtp bool `mapstructure:"exposeOtp"`

	// Admins are the emails/phone numbers allowed to onboard as admin.
	Admins []string `mapstructure:"admins"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

type StorageConfig struct {
	Bucket               string `mapstructure:"bucket"`
	Prefix               string `mapstructure:"prefix"`
	SqliteBackupSchedule string `mapstructure:"sqliteBackupSchedule"`

	// EnableSqliteBackup is a bool, or a string when overridden from the env.
	EnableSqliteBackup interface{} `mapstructure:"enableSqliteBackup"`
}

type TwilioConfig struct {
	AccountSid          string `mapstructure:"accountSid" validate:"required_with=AuthToken MessagingServiceSid"`
	AuthToken           string `mapstructure:"authToken" validate:"required_with=AccountSid"`
	MessagingServiceSid string `mapstructure:"messagingServiceSid" validate:"required_with=AccountSid"`
}

type SmtpConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"required_with=Host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password" validate:"required_with=Username"`
	From     string `mapstructure:"from" validate:"required_with=Host"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type OtpConfig struct {
	// MaxAttempts per contact within Window. Zero disables limiting.
	MaxAttempts int    `mapstructure:"maxAttempts" validate:"min=0"`
	Window      string `mapstructure:"window"`
}

// BackupEnabled reports whether periodic sqlite backups to cloud storage are on.
func (c StorageConfig) BackupEnabled() bool {
	switch v := c.EnableSqliteBackup.(type) {
	case bool:
		return v
	case string:
		enabled, _ := strconv.ParseBool(v)
		return enabled
	default:
		return false
	}
}

// Validate checks the fields backups depend on once they are switched on.
func (c StorageConfig) Validate() error {
	if !c.BackupEnabled() {
		return nil
	}

	if c.Bucket == "" || c.Prefix == "" || c.SqliteBackupSchedule == "" {
		return errors.New("google.storage: bucket, prefix and sqliteBackupSchedule are required when enableSqliteBackup is set")
	}

	return nil
}

func (c TwilioConfig) Enabled() bool {
	return c.AccountSid != ""
}

func (c SmtpConfig) Enabled() bool {
	return c.Host != ""
}
