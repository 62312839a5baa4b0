package config

import (
	"fmt"
	"os"
	"strings"
)

// CredentialsConfig selects how database credentials are obtained. The
// "static" provider uses the user/password fields from the config file,
// "env" reads named environment variables, "file" reads secret files
// (one value per file, e.g. Docker secrets).
type CredentialsConfig struct {
	Provider     string `yaml:"provider"`
	UserVar      string `yaml:"user_var"`
	PasswordVar  string `yaml:"password_var"`
	UserFile     string `yaml:"user_file"`
	PasswordFile string `yaml:"password_file"`
}

func (d *DatabaseConfig) resolveCredentials() error {
	switch d.Credentials.Provider {
	case "", "static":
		return nil
	case "env":
		return d.resolveFromEnv()
	case "file":
		return d.resolveFromFiles()
	default:
		return fmt.Errorf("unknown credentials provider %q", d.Credentials.Provider)
	}
}

func (d *DatabaseConfig) resolveFromEnv() error {
	userVar := d.Credentials.UserVar
	if userVar == "" {
		userVar = "POSTGRES_USER"
	}
	passwordVar := d.Credentials.PasswordVar
	if passwordVar == "" {
		passwordVar = "POSTGRES_PASSWORD"
	}

	user, ok := os.LookupEnv(userVar)
	if !ok {
		return fmt.Errorf("environment variable %s not set", userVar)
	}
	password, ok := os.LookupEnv(passwordVar)
	if !ok {
		return fmt.Errorf("environment variable %s not set", passwordVar)
	}

	d.User = user
	d.Password = password
	return nil
}

func (d *DatabaseConfig) resolveFromFiles() error {
	user, err := readSecretFile(d.Credentials.UserFile)
	if err != nil {
		return fmt.Errorf("read user file: %w", err)
	}
	password, err := readSecretFile(d.Credentials.PasswordFile)
	if err != nil {
		return fmt.Errorf("read password file: %w", err)
	}

	d.User = user
	d.Password = password
	return nil
}

func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
