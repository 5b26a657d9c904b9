package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString возвращает значение переменной окружения или значение по умолчанию
func GetString(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt возвращает целое значение. Некорректное значение заменяется значением по умолчанию.
func GetInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(GetString(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(GetString(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetDuration разбирает значение в формате time.ParseDuration ("45s", "1m30s")
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(GetString(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetList разбирает список через запятую, пустые элементы отбрасываются
func GetList(key string, defaultValue []string) []string {
	raw := GetString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
