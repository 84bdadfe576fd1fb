package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	targetEnvVar           = "TARGET_ENV"
	environmentDevelopment = "dev"
	environmentProduction  = "prod"
)

const (
	// EnvironmentDevelopment is the TARGET_ENV value selecting .env.dev.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction is the TARGET_ENV value selecting .env.prod.
	EnvironmentProduction = environmentProduction
)

var environmentAliases = map[string]string{
	"development": environmentDevelopment,
	"develop":     environmentDevelopment,
	"production":  environmentProduction,
	"prd":         environmentProduction,
}

// ErrNoEnvFile is returned when neither the environment specific file nor
// the .env fallback exists.
var ErrNoEnvFile = errors.New("TARGET_ENV not set to dev or prod and no .env file found")

// getTargetEnvironment reads TARGET_ENV and defaults to dev.
func getTargetEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(targetEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// TargetEnvironment exposes the normalised TARGET_ENV value.
func TargetEnvironment() string {
	return getTargetEnvironment()
}

// ResolveEnvFile picks the env file for the current target environment
// inside dir: .env.dev or .env.prod when present, otherwise .env.
func ResolveEnvFile(dir string) (string, error) {
	env := getTargetEnvironment()
	if env == environmentDevelopment || env == environmentProduction {
		path := filepath.Join(dir, ".env."+env)
		if fileExists(path) {
			return path, nil
		}
	}
	fallback := filepath.Join(dir, ".env")
	if fileExists(fallback) {
		return fallback, nil
	}
	return "", ErrNoEnvFile
}

// LoadEnvFile loads the resolved env file into the process environment.
// Variables that are already set keep their values.
func LoadEnvFile(dir string) (string, error) {
	path, err := ResolveEnvFile(dir)
	if err != nil {
		return "", err
	}
	if err := godotenv.Load(path); err != nil {
		return path, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
