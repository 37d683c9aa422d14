package urlconf

import "testing"

func TestParseDefaults(t *testing.T) {
	u, err := Parse("dubbo://127.0.0.1:20880/com.acme.Echo?version=1.0.0&group=acme")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Host != "127.0.0.1" || u.Port != 20880 {
		t.Fatalf("unexpected address: %s:%d", u.Host, u.Port)
	}
	if u.Path != "com.acme.Echo" {
		t.Fatalf("unexpected path: %s", u.Path)
	}
	if u.Timeout != DefaultTimeoutMillis {
		t.Fatalf("expected default timeout, got %d", u.Timeout)
	}
	if u.ServiceKey() != "acme/com.acme.Echo:1.0.0:20880" {
		t.Fatalf("unexpected service key: %s", u.ServiceKey())
	}
}

func TestParseOverrides(t *testing.T) {
	u, err := Parse("dubbo://0.0.0.0:20880/Echo?timeout=500&heartbeat=1000&accepts=10&connections=2&lazy=true")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Timeout != 500 || u.Heartbeat != 1000 || u.Accepts != 10 || u.Connections != 2 || !u.Lazy {
		t.Fatalf("overrides not applied: %+v", u)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := New("127.0.0.1", 20880, "Echo")
	base.Params["a"] = "1"

	clone := base.Clone(func(u *URL) { u.Timeout = 42 })
	clone.Params["a"] = "2"

	if base.Timeout == 42 {
		t.Fatalf("clone override leaked into base")
	}
	if base.Params["a"] != "1" {
		t.Fatalf("clone param mutation leaked into base: %v", base.Params)
	}
	if clone.Timeout != 42 {
		t.Fatalf("clone override not applied")
	}
}

func TestBindAddressAnyhost(t *testing.T) {
	u := New("192.168.1.5", 20880, "Echo")
	u.AnyHost = true
	if got := u.BindAddress(); got != "0.0.0.0:20880" {
		t.Fatalf("expected anyhost bind, got %s", got)
	}
}

func TestServiceKeyNoGroupNoVersion(t *testing.T) {
	if got := ServiceKey("", "Echo", "", 20880); got != "Echo:20880" {
		t.Fatalf("unexpected service key: %s", got)
	}
}
