package env

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found. Without one the process
// environment is used as-is, which is the normal case in containers.
func SetupEnvFile() {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/tipqueue to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			log.Infof("[Env] Loaded %s", envFile)
			return
		}
	}

	Env = map[string]string{}
	if IsDev() {
		log.Warn("[Env] No .env file found, using process environment")
	}
}

// Environ merges the process environment with values from the .env file.
// Values from the file win, matching GetEnv.
func Environ() map[string]string {
	out := make(map[string]string, len(Env))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	for k, v := range Env {
		out[k] = v
	}
	return out
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
