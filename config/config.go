package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	SourceOdoo    = "odoo"
	SourceOpenMRS = "openmrs"

	BackendFile = "file"
	BackendS3   = "s3"
)

type Config struct {
	OdooPath    string
	OpenMRSPath string

	// ChecksumDir overrides the per-file default of "<data dir>_checksum".
	ChecksumDir     string
	ChecksumBackend string
	S3              S3Config

	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		OdooPath:        getEnv("ODOO_PATH", ""),
		OpenMRSPath:     getEnv("OPENMRS_PATH", ""),
		ChecksumDir:     getEnv("CHECKSUM_FOLDER", ""),
		ChecksumBackend: strings.ToLower(getEnv("CHECKSUM_BACKEND", BackendFile)),
		S3: S3Config{
			Endpoint:  getEnv("CHECKSUM_S3_ENDPOINT", ""),
			Region:    getEnv("CHECKSUM_S3_REGION", "us-east-1"),
			AccessKey: getEnv("CHECKSUM_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("CHECKSUM_S3_SECRET_KEY", ""),
			Bucket:    getEnv("CHECKSUM_S3_BUCKET", "ingest-checksums"),
			Prefix:    getEnv("CHECKSUM_S3_PREFIX", ""),
			UseSSL:    getBool("CHECKSUM_S3_USE_SSL", true),
		},
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		Neo4jURI:    getEnv("NEO4J_URI", ""),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),
	}
}

// DataFolder returns the configured root for a named source. The lookup is
// case-insensitive; unknown sources and sources without a path are errors.
func (c Config) DataFolder(source string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case SourceOdoo:
		if c.OdooPath == "" {
			return "", fmt.Errorf("no path configured for source %q (set ODOO_PATH)", source)
		}
		return c.OdooPath, nil
	case SourceOpenMRS:
		if c.OpenMRSPath == "" {
			return "", fmt.Errorf("no path configured for source %q (set OPENMRS_PATH)", source)
		}
		return c.OpenMRSPath, nil
	default:
		return "", fmt.Errorf("unknown data files source %q", source)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
