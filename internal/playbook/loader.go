package playbook

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tradedesk/internal/domain"

	"gopkg.in/yaml.v3"
)

// Library is the desk's loaded playbook set. Load-once, read-many: the
// library never changes after Load, so agents can query it concurrently.
type Library struct {
	playbooks []domain.Playbook
	logger    *slog.Logger
}

// Load reads playbook definitions from YAML files in a directory. Files must
// have a .yaml or .yml extension. A malformed file is skipped with a warning
// rather than failing the whole library; a missing directory yields an empty
// library.
func Load(dir string, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lib := &Library{logger: logger}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("playbook directory does not exist, skipping", "dir", dir)
		return lib, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read playbook dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read playbook file", "path", path, "err", err)
			continue
		}

		var pb domain.Playbook
		if err := yaml.Unmarshal(data, &pb); err != nil {
			logger.Warn("cannot parse playbook file", "path", path, "err", err)
			continue
		}

		if pb.ID == "" {
			pb.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if pb.Name == "" {
			pb.Name = pb.ID
		}
		if err := validate(pb); err != nil {
			logger.Warn("invalid playbook, skipping", "path", path, "err", err)
			continue
		}

		logger.Info("loaded playbook", "id", pb.ID, "path", path)
		lib.playbooks = append(lib.playbooks, pb)
	}

	sort.Slice(lib.playbooks, func(i, j int) bool {
		return lib.playbooks[i].ID < lib.playbooks[j].ID
	})
	return lib, nil
}

func validate(pb domain.Playbook) error {
	switch pb.Bias {
	case "long", "short", "both", "":
	default:
		return fmt.Errorf("bias must be long, short or both, got %q", pb.Bias)
	}
	if len(pb.Rules) == 0 {
		return fmt.Errorf("playbook %s has no rules", pb.ID)
	}
	return nil
}

// All returns every playbook, sorted by ID.
func (l *Library) All() []domain.Playbook {
	out := make([]domain.Playbook, len(l.playbooks))
	copy(out, l.playbooks)
	return out
}

// Find returns playbooks whose ID, name or tags contain the filter,
// case-insensitively. An empty filter returns everything.
func (l *Library) Find(filter string) []domain.Playbook {
	if filter == "" {
		return l.All()
	}
	needle := strings.ToLower(filter)

	var out []domain.Playbook
	for _, pb := range l.playbooks {
		if matches(pb, needle) {
			out = append(out, pb)
		}
	}
	return out
}

// Get looks up one playbook by ID or name, case-insensitively.
func (l *Library) Get(id string) (*domain.Playbook, bool) {
	for _, pb := range l.playbooks {
		if strings.EqualFold(pb.ID, id) || strings.EqualFold(pb.Name, id) {
			found := pb
			return &found, true
		}
	}
	return nil, false
}

func matches(pb domain.Playbook, needle string) bool {
	if strings.Contains(strings.ToLower(pb.ID), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(pb.Name), needle) {
		return true
	}
	if strings.ToLower(pb.Bias) == needle {
		return true
	}
	for _, tag := range pb.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
