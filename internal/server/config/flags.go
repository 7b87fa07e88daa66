package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/flagx"
)

var serverFlags = []string{
	"-a", "-m", "-d", "-l",
	"-k", "-private-key", "-public-key",
	"-u", "-p", "-b", "-g", "-e", "-private-object", "-public-object",
	"-t", "-st", "-creator", "-geo", "-rate", "-burst",
}

// parseFlags overlays command-line flags onto config. Token lifetimes are
// given in days. It panics on a malformed flag value.
//
//	-a  gRPC bind address         -m  metrics bind address
//	-d  PostgreSQL DSN            -l  log level
//	-k  key source (file|s3)      -private-key / -public-key  PEM paths
//	-u/-p S3 user/password        -b  bucket   -g region   -e endpoint
//	-private-object / -public-object  S3 object names
//	-t  token days                -st static token days
//	-creator  creator project id  -geo  geo CIDR table path
//	-rate / -burst  login attempts per second and burst
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port for metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.KeySource, "k", config.KeySource, "key source: file or s3")
	fs.StringVar(&config.PrivateKeyPath, "private-key", config.PrivateKeyPath, "private key PEM path")
	fs.StringVar(&config.PublicKeyPath, "public-key", config.PublicKeyPath, "public key PEM path")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3PrivateKeyName, "private-object", config.S3PrivateKeyName, "S3 object holding the private key")
	fs.StringVar(&config.S3PublicKeyName, "public-object", config.S3PublicKeyName, "S3 object holding the public key")

	tokenDays := fs.Int("t", int(config.TokenExpiration/(24*time.Hour)), "token expiration (in days)")
	staticDays := fs.Int("st", int(config.StaticTokenExpiration/(24*time.Hour)), "static token expiration (in days)")

	fs.Int64Var(&config.CreatorProjectID, "creator", config.CreatorProjectID, "creator project id")
	fs.StringVar(&config.GeoDatabasePath, "geo", config.GeoDatabasePath, "geo CIDR table path")
	fs.Float64Var(&config.LoginRatePerSecond, "rate", config.LoginRatePerSecond, "login attempts per second per identifier")
	fs.IntVar(&config.LoginBurst, "burst", config.LoginBurst, "login burst per identifier")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// lifetimes change only when the flag is given
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.TokenExpiration = time.Duration(*tokenDays) * 24 * time.Hour
		case "st":
			config.StaticTokenExpiration = time.Duration(*staticDays) * 24 * time.Hour
		}
	})
}
