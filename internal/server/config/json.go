package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tenantguard/internal/flagx"
	"github.com/dmitrijs2005/tenantguard/internal/timex"
)

// JsonConfig mirrors Config for the JSON file. Absent keys leave the current
// value alone, hence the pointers.
type JsonConfig struct {
	EndpointAddrGRPC      *string         `json:"endpoint_addr_grpc"`
	MetricsAddr           *string         `json:"metrics_addr"`
	DatabaseDSN           *string         `json:"database_dsn"`
	LogLevel              *string         `json:"log_level"`
	KeySource             *string         `json:"key_source"`
	PrivateKeyPath        *string         `json:"private_key_path"`
	PublicKeyPath         *string         `json:"public_key_path"`
	S3RootUser            *string         `json:"s3_root_user"`
	S3RootPassword        *string         `json:"s3_root_password"`
	S3Bucket              *string         `json:"s3_bucket"`
	S3Region              *string         `json:"s3_region"`
	S3BaseEndpoint        *string         `json:"s3_base_endpoint"`
	S3PrivateKeyName      *string         `json:"s3_private_key_name"`
	S3PublicKeyName       *string         `json:"s3_public_key_name"`
	TokenExpiration       *timex.Duration `json:"token_expiration"`
	StaticTokenExpiration *timex.Duration `json:"static_token_expiration"`
	CreatorProjectID      *int64          `json:"creator_project_id"`
	GeoDatabasePath       *string         `json:"geo_database_path"`
	LoginRatePerSecond    *float64        `json:"login_rate_per_second"`
	LoginBurst            *int            `json:"login_burst"`
	EventBufferSize       *int            `json:"event_buffer_size"`
}

// parseJson overlays the file named by -c / -config onto config. It panics
// when the file is unreadable or not valid JSON.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.KeySource, c.KeySource)
	setString(&config.PrivateKeyPath, c.PrivateKeyPath)
	setString(&config.PublicKeyPath, c.PublicKeyPath)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3PrivateKeyName, c.S3PrivateKeyName)
	setString(&config.S3PublicKeyName, c.S3PublicKeyName)
	setString(&config.GeoDatabasePath, c.GeoDatabasePath)

	if c.TokenExpiration != nil {
		config.TokenExpiration = c.TokenExpiration.Duration
	}
	if c.StaticTokenExpiration != nil {
		config.StaticTokenExpiration = c.StaticTokenExpiration.Duration
	}
	if c.CreatorProjectID != nil {
		config.CreatorProjectID = *c.CreatorProjectID
	}
	if c.LoginRatePerSecond != nil {
		config.LoginRatePerSecond = *c.LoginRatePerSecond
	}
	if c.LoginBurst != nil {
		config.LoginBurst = *c.LoginBurst
	}
	if c.EventBufferSize != nil {
		config.EventBufferSize = *c.EventBufferSize
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
