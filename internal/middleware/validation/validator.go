package validation

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	injectionPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxMessageLength int
	Logger           *zap.Logger
}

// Middleware validates request payloads before they reach the handlers: chat
// messages get length and content checks, folder paths must be absolute and
// traversal-free.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 5000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()

		if strings.HasSuffix(path, "/chat") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			message, ok := req["message"].(string)
			if !ok || strings.TrimSpace(message) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Message is required and must be a string",
				})
			}

			if len(message) > cfg.MaxMessageLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Message exceeds maximum length",
				})
			}

			if injectionPattern.MatchString(message) {
				cfg.Logger.Warn("Rejected message with markup injection",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid message content",
				})
			}
		}

		if strings.HasSuffix(path, "/files/process") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			folders, ok := stringList(req["folder_paths"])
			if !ok || len(folders) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "folder_paths is required and must be a non-empty list of strings",
				})
			}

			for _, folder := range folders {
				if !isSafeFolderPath(folder) {
					cfg.Logger.Warn("Rejected unsafe folder path",
						zap.String("ip", c.IP()),
						zap.String("folder_path", folder),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "folder_paths entries must be absolute paths without traversal",
					})
				}
			}

			extensions, ok := stringList(req["extensions"])
			if !ok || len(extensions) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "extensions is required and must be a non-empty list of strings",
				})
			}
		}

		return c.Next()
	}
}

func stringList(v interface{}) ([]string, bool) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func isSafeFolderPath(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	if strings.Contains(path, "..") {
		return false
	}
	return filepath.Clean(path) == path || filepath.Clean(path)+string(filepath.Separator) == path
}
