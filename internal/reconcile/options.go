package reconcile

import (
	"strings"
)

// ServerOptions is the parsed output of the showoptions command. The
// game prints one option per line, usually prefixed with "* ".
type ServerOptions struct {
	// Values holds every Key=value pair in report order.
	Values map[string]string

	// Order preserves the line order of keys for display.
	Order []string
}

// ParseServerOptions parses showoptions output. Lines that do not look
// like options (banners, blank lines) are skipped.
func ParseServerOptions(out string) *ServerOptions {
	opts := &ServerOptions{Values: make(map[string]string)}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.Trim(strings.TrimSpace(line[eq+1:]), `"`)
		if strings.ContainsAny(key, " \t") {
			continue
		}
		if _, dup := opts.Values[key]; !dup {
			opts.Order = append(opts.Order, key)
		}
		opts.Values[key] = val
	}
	return opts
}

// Get returns the value for key and whether it was present.
func (o *ServerOptions) Get(key string) (string, bool) {
	v, ok := o.Values[key]
	return v, ok
}

// Mods returns the raw Mods= option value.
func (o *ServerOptions) Mods() string {
	return o.Values["Mods"]
}

// WorkshopItems returns the raw WorkshopItems= option value.
func (o *ServerOptions) WorkshopItems() string {
	return o.Values["WorkshopItems"]
}
