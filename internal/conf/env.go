// conf/env.go environment variable overrides
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRACKWATCH_MQTT_HOST.
const EnvPrefix = "TRACKWATCH"

// envBinding holds metadata for environment variables that get validated
// before use (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	Validate  func(string) error // validation function
}

// getEnvBindings returns the environment variables validated at load time.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.name", validateEnvName},
		{"mqtt.host", validateEnvHost},
		{"mqtt.ports.ctrl", validateEnvPort},
		{"mqtt.ports.video", validateEnvPort},
		{"mqtt.ports.alert", validateEnvPort},
		{"camera.fps", validateEnvPositiveFloat},
		{"alert.ttl", validateEnvDuration},
		{"alert.ackfallback", validateEnvDuration},
		{"telemetry.enabled", validateEnvBool},
		{"journal.enabled", validateEnvBool},
	}
}

// envVarFor maps a config key to its environment variable name.
func envVarFor(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// bindEnvVars validates explicitly bound environment variables (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		envVar := envVarFor(binding.ConfigKey)
		if err := viper.BindEnv(binding.ConfigKey, envVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", envVar, err))
			continue
		}
		if envValue := os.Getenv(envVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", envVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvName(value string) error {
	if strings.ContainsAny(value, "/+# ") {
		return fmt.Errorf("must not contain topic separators, wildcards or spaces")
	}
	return nil
}

func validateEnvHost(value string) error {
	if net.ParseIP(value) != nil {
		return nil
	}
	if strings.ContainsAny(value, "/: ") {
		return fmt.Errorf("must be a hostname or IP address")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port between 1 and 65535")
	}
	return nil
}

func validateEnvPositiveFloat(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 10s")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper.
// Every key can be overridden; a subset is validated up front.
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
