package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/motion"
)

// DefaultInterpreterPrompt is used when no prompt files are present.
const DefaultInterpreterPrompt = `You are the motion planner of a small two-wheeled robot.
Turn the operator's instruction into a sequence of timed motor steps and submit it with the
propose_motion_plan tool. Never answer with prose when the instruction asks for motion.

Directions: forward, backward, turn_left, turn_right, stop.
Targets: both (default), left, right. Turning in place uses target both.

Speed guidance:
- forward/backward: normal 50, fast 80, slow 30
- turns: normal 85, fast 95, slow 70 (turning needs more power)
- turns are short: 0.8 to 1.0 seconds
- stop has speed 0 and duration 0 and takes no time

Timed pauses are not supported. A stop ends motion immediately and cannot be used to wait.
If the instruction asks to pause, wait or sleep for some time, call the tool with an empty
steps list and explain in summary that waiting is not supported.

Examples:
- "go forward" -> [{"direction":"forward","speed_percent":50,"duration_seconds":2.0}]
- "turn right quickly" -> [{"direction":"turn_right","speed_percent":95,"duration_seconds":0.8}]
- "stop" -> [{"direction":"stop","speed_percent":0,"duration_seconds":0}]

If the instruction is not about motion, call the tool with an empty steps list and explain in summary.`

// PromptManager assembles the interpreter system prompt from .md files.
type PromptManager struct {
	Directory string
	logger    *zap.Logger
}

func NewPromptManager(dir string, logger *zap.Logger) *PromptManager {
	return &PromptManager{Directory: dir, logger: logger.Named("prompts")}
}

var promptOrder = map[string]int{
	"identity.md": 1,
	"motion.md":   2,
	"safety.md":   3,
	"user.md":     4,
}

// GetInterpreterPrompt joins the prompt files in a fixed order, falling back
// to DefaultInterpreterPrompt, and appends the active limits.
func (pm *PromptManager) GetInterpreterPrompt(limits motion.Limits) (string, error) {
	base, err := pm.readDirectory()
	if err != nil {
		return "", err
	}
	if base == "" {
		base = DefaultInterpreterPrompt
	}
	return fmt.Sprintf("%s\n\n## Limits\n- at most %d steps\n- each step at most %.1f seconds\n- whole plan at most %.1f seconds\n- speed_percent is an integer from 0 to 100",
		base, limits.MaxSteps, limits.MaxStepSeconds, limits.MaxPlanSeconds), nil
}

func (pm *PromptManager) readDirectory() (string, error) {
	if pm.Directory == "" {
		return "", nil
	}
	entries, err := os.ReadDir(pm.Directory)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		oi, okI := promptOrder[entries[i].Name()]
		oj, okJ := promptOrder[entries[j].Name()]
		switch {
		case okI && okJ:
			return oi < oj
		case okI:
			return true
		case okJ:
			return false
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			pm.logger.Warn("Failed to read prompt file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}
