package constants

// Default queue policy values
const (
	DefaultPriority        = 5
	MinPriority            = 1
	MaxPriority            = 10
	DefaultMinIntervalSec  = 300
	DefaultMaxRetries      = 3
	DefaultSelectBatchSize = 50
	DefaultRetentionDays   = 30
)

// Quiet hours: sends outside [QuietHoursEnd, QuietHoursStart) local time
// are deferred to the next QuietHoursEnd o'clock.
const (
	QuietHoursStart = 22
	QuietHoursEnd   = 6
)

// Default driver scheduling values
const (
	DefaultDriverIntervalSec  = 60
	DefaultPurgeIntervalHours = 24
)

// Default timeout values
const (
	DefaultWebhookTimeoutSec     = 10
	DefaultChannelSendTimeoutSec = 30
	DefaultHTTPTimeoutSec        = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultServerPort            = 8084
	ServerErrorChannelSize       = 1
)

// Rate limiting
const (
	RateLimitWindowSec      = 60
	DefaultAPIKeyRateLimit  = 60
	RateLimitSweepThreshold = 1024
)

// Webhook endpoint configuration
const (
	WebhookSecretBytes    = 32
	WebhookLogPageSize    = 100
	MaxWebhookRespSnippet = 2048
)

// Validation bounds
const (
	MinPhoneNumberLength = 7
	MaxPhoneNumberLength = 20
	MaxContentLength     = 65536
	MaxEventNameLength   = 64
)
