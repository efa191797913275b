package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterResolvesOriginHost(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://app.local/index.html", nil)
	req.Host = "app.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if app.recorder.last == nil || !app.recorder.last.SameOrigin {
		t.Fatalf("expected same-origin target, got %+v", app.recorder.last)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterResolvesForeignHost(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://fonts.gstatic.com/s/font.woff2", nil)
	req.Host = "fonts.gstatic.com"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if app.recorder.last.URL.String() != "https://fonts.gstatic.com" {
		t.Fatalf("unexpected target %s", app.recorder.last.URL)
	}
}

func TestRouterRequestLogFields(t *testing.T) {
	app := newTestApp(t, 5000)

	for _, tc := range []struct {
		host       string
		sameOrigin bool
		target     string
	}{
		{"app.local", true, "http://app.local"},
		{"fonts.gstatic.com", false, "https://fonts.gstatic.com"},
	} {
		req := httptest.NewRequest("GET", "http://"+tc.host+"/x", nil)
		req.Host = tc.host
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		fields := app.recorder.fields
		if fields["same_origin"] != tc.sameOrigin {
			t.Fatalf("%s: expected same_origin=%v, got %v", tc.host, tc.sameOrigin, fields["same_origin"])
		}
		if fields["target"] != tc.target {
			t.Fatalf("%s: unexpected target field %v", tc.host, fields["target"])
		}
		if fields["request_id"] != resp.Header.Get("X-Request-ID") {
			t.Fatalf("%s: request_id field should match the response header", tc.host)
		}
	}
}

func TestRouterDiagnosticsBypassResolution(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://anything.local/-/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.Equal(body, []byte("pong")) {
		t.Fatalf("diagnostics should bypass proxy, got %d %s", resp.StatusCode, body)
	}
	if app.recorder.last != nil {
		t.Fatalf("proxy must not see diagnostics requests")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	if _, err := NewApp(AppOptions{Logger: logger, ListenPort: 5000}); err == nil {
		t.Fatalf("missing resolver should fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *proxyRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	origin, _ := url.Parse("http://app.local")
	resolver, err := NewTargetResolver(origin, port)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Resolver:   resolver,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type proxyRecorder struct {
	last   *Target
	fields logrus.Fields
}

func (p *proxyRecorder) Handle(c fiber.Ctx, target *Target) error {
	p.last = target
	p.fields = RequestLogFields(c)
	return c.SendStatus(fiber.StatusNoContent)
}
