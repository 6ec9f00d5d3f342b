package config

import (
	"os"
	"strconv"
	"strings"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret string
	// Shared bcrypt hashes for the local login. Defaults hash "learner"
	// and "staff"; override in any real deployment.
	LearnerPassHash string
	StaffPassHash   string

	// Default grading policy, used when a request does not carry its own.
	MustGrade             int
	MustBeGradedBy        int
	EnableFlexibleGrading bool

	CORSOrigins []string
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	// Offline deployments run on the embedded database; online ones default
	// to postgres. DB_DRIVER overrides either.
	driver := "sqlite"
	if mode == ModeOnline {
		driver = "postgres"
	}
	return Config{
		Mode:     mode,
		HTTPAddr: addr,
		DBDriver: envOr("DB_DRIVER", driver),
		DBDSN:    envOr("DB_DSN", ""),

		AuthSecret:      envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		LearnerPassHash: envOr("LEARNER_PASS_HASH", "$2a$10$BPpGp3ZZGYfBAcLAKQZyR.hUO3fFMLQUe87F2zyrVBBUZbanpXUBS"),
		StaffPassHash:   envOr("STAFF_PASS_HASH", "$2a$10$hPyPZggdZMGNbptC9r2/OOaeQdLQRnkkSpIdL2dhkAaOXbBaF8mZm"),

		MustGrade:             envInt("MUST_GRADE", 5),
		MustBeGradedBy:        envInt("MUST_BE_GRADED_BY", 3),
		EnableFlexibleGrading: envBool("ENABLE_FLEXIBLE_GRADING", false),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
