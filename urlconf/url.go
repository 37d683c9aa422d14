// Package urlconf implements the endpoint URL that configures every other
// layer of the exchange core: addressing, transport/codec/serialization
// selection, and the tunable defaults from spec §6.
//
// A URL is treated as immutable once constructed. Clone(...) produces a
// new *URL with overrides applied, rather than mutating the receiver in
// place; derived values such as the service-key are computed on demand.
package urlconf

import (
	"fmt"
	"net/url"
	"strconv"
)

// Defaults from spec §6.
const (
	DefaultPayload           = 8 * 1024 * 1024 // 8 MiB
	DefaultHeartbeatMillis   = 60000
	DefaultTimeoutMillis     = 1000
	DefaultShareConnections  = 1
	DefaultSerialization     = "hessian2"
	DefaultCodec             = "dubbo"
	DefaultClientTransport   = "netty"
	DefaultServerTransport   = "netty"
	DefaultChannelReadonly   = true
	defaultReconnectInterval = 2000 // ms, "no more often than 2s" per §4.3
)

// URL is the opaque, parsed endpoint configuration consumed by the core.
// Only the fields the core consults are modeled; anything else a real
// deployment needs (registry coordinates, application name, ...) is
// carried in Params and ignored here, per spec §1's explicit exclusion
// of "URL parameter parsing" beyond these fields.
type URL struct {
	Host    string
	Port    int
	BindIP  string
	BindPort int
	AnyHost bool

	Path    string // service interface name
	Version string
	Group   string

	Timeout            int // ms
	Heartbeat          int // ms
	Payload            int // bytes, 0 or negative = unlimited
	Accepts            int // 0 = unlimited
	Connections        int // 0 = use shared pool
	ShareConnections   int
	ReconnectInterval  int // ms

	Serialization string
	Codec         string
	Client        string
	Server        string

	Lazy              bool
	ChannelReadonly   bool
	OnConnectMethod    string
	OnDisconnectMethod string
	StubEvent          bool
	CallbackServiceKey string

	Params map[string]string
}

// New builds a URL with every default from spec §6 applied.
func New(host string, port int, path string) *URL {
	return &URL{
		Host:              host,
		Port:              port,
		Path:              path,
		Timeout:           DefaultTimeoutMillis,
		Heartbeat:         DefaultHeartbeatMillis,
		Payload:           DefaultPayload,
		ShareConnections:  DefaultShareConnections,
		ReconnectInterval: defaultReconnectInterval,
		Serialization:     DefaultSerialization,
		Codec:             DefaultCodec,
		Client:            DefaultClientTransport,
		Server:            DefaultServerTransport,
		ChannelReadonly:   DefaultChannelReadonly,
		Params:            map[string]string{},
	}
}

// Parse decodes a dubbo-style URL string:
//
//	dubbo://host:port/path?version=1.0.0&group=g&timeout=3000&heartbeat=60000
func Parse(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("urlconf: parse %q: %w", raw, err)
	}

	host := u.Hostname()
	port, _ := strconv.Atoi(u.Port())

	result := New(host, port, trimLeadingSlash(u.Path))
	q := u.Query()

	result.Version = q.Get("version")
	result.Group = q.Get("group")
	result.Codec = firstNonEmpty(q.Get("codec"), result.Codec)
	result.Serialization = firstNonEmpty(q.Get("serialization"), result.Serialization)
	result.Client = firstNonEmpty(q.Get("client"), result.Client)
	result.Server = firstNonEmpty(q.Get("server"), result.Server)
	result.OnConnectMethod = q.Get("onconnect")
	result.OnDisconnectMethod = q.Get("ondisconnect")
	result.CallbackServiceKey = q.Get("callback.service.key")

	if v := q.Get("timeout"); v != "" {
		result.Timeout, _ = strconv.Atoi(v)
	}
	if v := q.Get("heartbeat"); v != "" {
		result.Heartbeat, _ = strconv.Atoi(v)
	}
	if v := q.Get("payload"); v != "" {
		result.Payload, _ = strconv.Atoi(v)
	}
	if v := q.Get("accepts"); v != "" {
		result.Accepts, _ = strconv.Atoi(v)
	}
	if v := q.Get("connections"); v != "" {
		result.Connections, _ = strconv.Atoi(v)
	}
	if v := q.Get("share-connections"); v != "" {
		result.ShareConnections, _ = strconv.Atoi(v)
	}
	if v := q.Get("lazy"); v != "" {
		result.Lazy = v == "true"
	}
	if v := q.Get("anyhost"); v != "" {
		result.AnyHost = v == "true"
	}
	if v := q.Get("stub.event"); v != "" {
		result.StubEvent = v == "true"
	}
	if v := q.Get("channel.readonly.sent"); v != "" {
		result.ChannelReadonly = v == "true"
	}

	result.Params = map[string]string{}
	for k, v := range q {
		if len(v) > 0 {
			result.Params[k] = v[0]
		}
	}
	return result, nil
}

// Clone returns a copy of u with overrides applied. Each override is a
// function mutating the copy; this is the "resetting update produces a
// new URL" path from spec §3 — callers reinitialize any derived state
// (pools, clients) keyed off the returned URL rather than off u.
func (u *URL) Clone(overrides ...func(*URL)) *URL {
	clone := *u
	clone.Params = make(map[string]string, len(u.Params))
	for k, v := range u.Params {
		clone.Params[k] = v
	}
	for _, fn := range overrides {
		fn(&clone)
	}
	return &clone
}

// Address renders "host:port".
func (u *URL) Address() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// BindAddress renders the address the transport server should listen on,
// applying the anyhost/bind-ip fallback from spec §4.2.
func (u *URL) BindAddress() string {
	host := u.Host
	if u.AnyHost || host == "" {
		host = "0.0.0.0"
	}
	if u.BindIP != "" {
		host = u.BindIP
	}
	port := u.Port
	if u.BindPort != 0 {
		port = u.BindPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ServiceKey implements the GLOSSARY formula:
// {group/}{interface}{:version}:{port}
func (u *URL) ServiceKey() string {
	return ServiceKey(u.Group, u.Path, u.Version, u.Port)
}

// ServiceKey builds the service-key string from its parts directly, for
// callers that need to compute the key for a *remote* port (the
// stub-event special case in spec §4.8).
func ServiceKey(group, path, version string, port int) string {
	s := path
	if group != "" {
		s = group + "/" + s
	}
	if version != "" {
		s = s + ":" + version
	}
	return fmt.Sprintf("%s:%d", s, port)
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
