package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "LUMINA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "LUMINA_DB_DSN"
	EnvDBHost = "LUMINA_DB_HOST"
	EnvDBUser = "LUMINA_DB_USER"
	EnvDBName = "LUMINA_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
