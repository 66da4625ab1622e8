package browser

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Patch is a single named init script.
type Patch struct {
	Name   string
	Script string
}

var DefaultLanguages = []string{"tr-TR", "tr", "en-US", "en"}

// DefaultPatches returns the environment patches in registration order.
func DefaultPatches(languages []string) []Patch {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	langs, _ := json.Marshal(languages)

	return []Patch{
		{
			Name:   "webdriver",
			Script: `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`,
		},
		{
			Name: "chrome_runtime",
			Script: `if (!window.chrome) { window.chrome = { runtime: {} }; }
else if (!window.chrome.runtime) { window.chrome.runtime = {}; }`,
		},
		{
			Name: "webgl_vendor",
			Script: `const patchGL = (proto) => {
  if (!proto) return;
  const getParameter = proto.getParameter;
  proto.getParameter = function (parameter) {
    if (parameter === 37445) return 'Intel Inc.';
    if (parameter === 37446) return 'Intel Iris OpenGL Engine';
    return getParameter.call(this, parameter);
  };
};
patchGL(window.WebGLRenderingContext && WebGLRenderingContext.prototype);
patchGL(window.WebGL2RenderingContext && WebGL2RenderingContext.prototype);`,
		},
		{
			Name: "plugins_languages",
			Script: fmt.Sprintf(`Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => %s });`, langs),
		},
		{
			Name: "permissions",
			Script: `const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({ state: Notification.permission })
    : originalQuery(parameters)
);`,
		},
		{
			Name: "outer_dimensions",
			Script: `Object.defineProperty(window, 'outerWidth', { get: () => window.innerWidth });
Object.defineProperty(window, 'outerHeight', { get: () => window.innerHeight });`,
		},
	}
}

// wrap isolates a patch so a throwing script cannot break the ones after it
// or the page itself.
func wrap(p Patch) string {
	return fmt.Sprintf("(() => {\n  try {\n%s\n  } catch (e) {}\n})();", p.Script)
}

type StealthInjector struct {
	patches []Patch
	logger  *slog.Logger
}

func NewStealthInjector(languages []string, logger *slog.Logger) *StealthInjector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StealthInjector{
		patches: DefaultPatches(languages),
		logger:  logger.With("component", "stealth"),
	}
}

func (s *StealthInjector) Patches() []Patch {
	out := make([]Patch, len(s.patches))
	copy(out, s.patches)
	return out
}

// Apply registers every patch on target and returns how many were accepted.
// A rejected patch is logged and skipped.
func (s *StealthInjector) Apply(target InitScripter) int {
	applied := 0
	for _, p := range s.patches {
		if err := target.AddInitScript(wrap(p)); err != nil {
			s.logger.Warn("failed to register stealth patch", "patch", p.Name, "error", err)
			continue
		}
		applied++
	}
	s.logger.Debug("stealth patches registered", "applied", applied, "total", len(s.patches))
	return applied
}
