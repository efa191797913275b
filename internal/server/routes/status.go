package routes

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/shellcache/internal/offline"
	"github.com/any-hub/shellcache/internal/strategy"
)

// StatusSource 提供 worker 的诊断快照。
type StatusSource interface {
	Status(ctx context.Context) (offline.Status, error)
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/strategies 诊断接口，供运维查询当前 generation 与路由策略。
func RegisterStatusRoutes(app *fiber.App, source StatusSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		status, err := source.Status(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_unavailable"})
		}
		return c.JSON(status)
	})

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"strategies": encodeStrategies(strategy.List())})
	})

	app.Get("/-/strategies/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if key == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy_key_required"})
		}
		profile, ok := strategy.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "strategy_not_found"})
		}
		return c.JSON(encodeStrategy(profile))
	})
}

type strategyPayload struct {
	Key             string   `json:"key"`
	Description     string   `json:"description"`
	DefaultHosts    []string `json:"default_hosts"`
	OfflineFallback bool     `json:"offline_fallback"`
	StoreGuard      string   `json:"store_guard"`
}

func encodeStrategies(profiles []strategy.Profile) []strategyPayload {
	if len(profiles) == 0 {
		return nil
	}
	result := make([]strategyPayload, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, encodeStrategy(profile))
	}
	return result
}

func encodeStrategy(profile strategy.Profile) strategyPayload {
	hosts := append([]string{}, profile.DefaultHosts...)
	return strategyPayload{
		Key:             profile.Key,
		Description:     profile.Description,
		DefaultHosts:    hosts,
		OfflineFallback: profile.OfflineFallback,
		StoreGuard:      profile.GuardName,
	}
}
