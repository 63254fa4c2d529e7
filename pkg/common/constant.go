package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyIOTDBType string = "IOT_DB_TYPE"
	EnvKeyIOTDbPath string = "IOT_DB_PATH"
	EnvKeyIOTDbDSN  string = "IOT_DB_DSN"
	EnvKeyIOTLogDir string = "IOT_LOG_DIR"

	EnvKeyIOTHttpHostPort string = "IOT_HTTP_HOST_PORT"
	EnvKeyIOTGrpcHostPort string = "IOT_GRPC_HOST_PORT"

	EnvKeyIOTDefaultRate  string = "IOT_DEFAULT_RATE"
	EnvKeyIOTDefaultBurst string = "IOT_DEFAULT_BURST"

	EnvKeyIOTDeviceAPIKey      string = "IOT_DEVICE_API_KEY"
	EnvKeyIOTMaxDevices        string = "IOT_MAX_DEVICES"
	EnvKeyIOTBatteryThreshold  string = "IOT_BATTERY_THRESHOLD_VOLTS"
	EnvKeyIOTAlertCooldown     string = "IOT_ALERT_COOLDOWN"
	EnvKeyIOTAlertEmail        string = "IOT_ALERT_EMAIL"
	EnvKeyIOTTimezone          string = "IOT_TIMEZONE"
	EnvKeyIOTWriteRetryBackoff string = "IOT_WRITE_RETRY_BACKOFF"
	EnvKeyIOTRedisAddr         string = "IOT_REDIS_ADDR"
	EnvKeyIOTRedisPassword     string = "IOT_REDIS_PASSWORD"
	EnvKeyIOTRedisDB           string = "IOT_REDIS_DB"
	EnvKeyIOTSerialPort        string = "IOT_SERIAL_PORT"
	EnvKeyIOTSerialBaud        string = "IOT_SERIAL_BAUD"
	EnvKeyIOTServerURL         string = "IOT_SERVER_URL"
	EnvKeyOneSignalAppID       string = "ONESIGNAL_APP_ID"
	EnvKeyOneSignalAPIKey      string = "ONESIGNAL_API_KEY"
	EnvKeyVAPIDPublicKey       string = "VAPID_PUBLIC_KEY"
	EnvKeyVAPIDPrivateKey      string = "VAPID_PRIVATE_KEY"
	EnvKeyVAPIDSubject         string = "VAPID_SUBJECT"
	EnvKeyGmailClientID        string = "GMAIL_CLIENT_ID"
	EnvKeyGmailClientSecret    string = "GMAIL_CLIENT_SECRET"
	EnvKeyGmailRefreshToken    string = "GMAIL_REFRESH_TOKEN"
	EnvKeyMailUser             string = "MAIL_USER"

	HeaderDeviceAPIKey string = "x-api-key"

	LoggerNameIOTCore        string = "iot_core"
	LoggerNameRestfulServer  string = "restful_server"
	LoggerNameGrpcServer     string = "grpc_server"
	LoggerNameSerialListener string = "serial_listener"
	LoggerNameWriteQueue     string = "write_queue"
	LoggerNameNotifier       string = "notifier"
	LoggerNameLiveHub        string = "live_hub"

	LoggerFieldIOTCategory   string = "category"
	LoggerCategoryIOTReading string = "reading"
	LoggerCategoryIOTDevice  string = "device"
	LoggerCategoryIOTAlert   string = "alert"
)
