package utils

import (
	"os"
	"strings"
)

// IsProductionEnvironment detects if the server is running in production
func IsProductionEnvironment() bool {
	for _, envVar := range []string{"ENVIRONMENT", "GO_ENV"} {
		value := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
		if value == "production" || value == "prod" {
			return true
		}
	}
	return false
}
