package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/fetch"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/resource"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/strategy"
)

// Engine 是请求处理核心，生产环境中为 *offline.Worker。
type Engine interface {
	Serve(ctx context.Context, req *resource.Request) (*resource.Response, error)
	Classify(req *resource.Request) strategy.Profile
	Generation() string
}

// Handler 将 Fiber 请求转换为 resource.Request 交给 Engine，
// 再把 Engine 返回的响应（缓存、网络或离线回退）写回客户端。
type Handler struct {
	engine Engine
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler around the engine.
func NewHandler(engine Engine, logger *logrus.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Handle 实现 server.ProxyHandler，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, target *server.Target) error {
	started := time.Now()
	requestID := server.RequestID(c)
	base := server.RequestLogFields(c)

	req := buildRequest(c, target)
	profile := h.engine.Classify(req)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := h.engine.Serve(ctx, req)
	if err != nil {
		h.logResult(base, req, profile, 0, "", started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeResponse(c, base, req, profile, resp, requestID, started)
}

func (h *Handler) writeResponse(
	c fiber.Ctx,
	base logrus.Fields,
	req *resource.Request,
	profile strategy.Profile,
	resp *resource.Response,
	requestID string,
	started time.Time,
) error {
	defer resp.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Shellcache-Source", string(resp.Source))
	c.Set("X-Shellcache-Generation", h.engine.Generation())
	c.Set("X-Shellcache-Strategy", profile.Key)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	if req.Method == http.MethodHead {
		h.logResult(base, req, profile, resp.Status, resp.Source, started, nil)
		return nil
	}

	body, err := resp.Body()
	if err == nil {
		_, err = io.Copy(c.Response().BodyWriter(), body)
		body.Close()
	}
	h.logResult(base, req, profile, resp.Status, resp.Source, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	base logrus.Fields,
	req *resource.Request,
	profile strategy.Profile,
	status int,
	source resource.Source,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(h.engine.Generation(), profile.Key, req.Host(), string(source))
	for k, v := range base {
		fields[k] = v
	}
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.URL.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 将 Fiber 上下文转换为 resource.Request，模式与目标类型取自 Sec-Fetch-* 头。
func buildRequest(c fiber.Ctx, target *server.Target) *resource.Request {
	uri := c.Request().URI()
	u := *target.URL
	u.Path = string(uri.Path())
	u.RawQuery = string(uri.QueryString())

	// Accept-Encoding 等由网络层管理，不进入请求语义，否则会污染 Vary 快照。
	header := fiberHeadersAsHTTP(c)
	resource.StripTransportHeaders(header)

	req := &resource.Request{
		Method:      c.Method(),
		URL:         &u,
		Header:      header,
		Mode:        resource.Mode(strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Mode")))),
		Destination: resource.Destination(strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Dest")))),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	if req.Mode == resource.ModeNavigate && req.Destination == resource.DestinationEmpty {
		req.Destination = resource.DestinationDocument
	}
	return req
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Append(key, value)
		}
	}
}
