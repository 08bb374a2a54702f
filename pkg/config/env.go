package config

const EnvPrefix = "LIBRARY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv                 = "LIBRARY_APP_ENV"
	EnvPort                   = "LIBRARY_APP_PORT"
	EnvDBDSN                  = "LIBRARY_DB_DSN"
	EnvDBHost                 = "LIBRARY_DB_HOST"
	EnvDBUser                 = "LIBRARY_DB_USER"
	EnvDBName                 = "LIBRARY_DB_NAME"
	EnvSQLitePath             = "LIBRARY_SQLITE_PATH"
	EnvUseSQLite              = "LIBRARY_USE_SQLITE"
	EnvRedisURL               = "LIBRARY_REDIS_URL"
	EnvJWTSecret              = "LIBRARY_JWT_SECRET"
	EnvJWTIssuer              = "LIBRARY_JWT_ISSUER"
	EnvJWTExpMins             = "LIBRARY_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "LIBRARY_REFRESH_TOKEN_TTL_MINUTES"
	EnvSchoolPrefix           = "LIBRARY_SCHOOL_PREFIX"
	EnvLoanDays               = "LIBRARY_LOAN_DAYS"
	EnvRetentionDays          = "LIBRARY_RETURNED_RETENTION_DAYS"
	EnvSendgridAPIKey         = "LIBRARY_SENDGRID_API_KEY"
	EnvSystemName             = "LIBRARY_SYSTEM_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
