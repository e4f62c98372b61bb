package dispatch

import (
	"sort"
	"strconv"
	"strings"
)

// Config is a free-form string keyed chip configuration. It is passed
// through to the chip untouched; only chips give meaning to keys.
type Config struct {
	m map[string]string
}

// ParseConfig reads "key=value" lines. Blank lines and lines without '=' are
// skipped.
func ParseConfig(s string) Config {
	c := Config{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		k, v, ok := strings.Cut(line, "=")
		if !ok || k == "" {
			continue
		}
		c.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return c
}

// ConfigFromMap copies m into a new Config.
func ConfigFromMap(m map[string]string) Config {
	c := Config{}
	for k, v := range m {
		c.Set(k, v)
	}
	return c
}

func (c *Config) Set(key, value string) {
	if c.m == nil {
		c.m = make(map[string]string)
	}
	c.m[key] = value
}

func (c *Config) Remove(key string) {
	delete(c.m, key)
}

func (c Config) Has(key string) bool {
	_, ok := c.m[key]
	return ok
}

func (c Config) Str(key, def string) string {
	if v, ok := c.m[key]; ok {
		return v
	}
	return def
}

func (c Config) Bool(key string, def bool) bool {
	v, ok := c.m[key]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

func (c Config) Int(key string, def int) int {
	v, ok := c.m[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (c Config) Float(key string, def float64) float64 {
	v, ok := c.m[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// String renders the config as sorted "key=value" lines.
func (c Config) String() string {
	keys := make([]string, 0, len(c.m))
	for k := range c.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(c.m[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}
