package util

import (
	"strings"

	"github.com/spf13/viper"
)

// SetKeyValue applies one environment variable as a viper override. The
// prefix is dropped and a double underscore separates nesting levels, so
// QG_DATABASE__USER sets database.user and QG_HOST_PORT sets host_port.
func SetKeyValue(vi *viper.Viper, key, value string) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[1] == "" {
		return
	}
	k := strings.ToLower(strings.ReplaceAll(parts[1], "__", "."))
	vi.Set(k, value)
}
