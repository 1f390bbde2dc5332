package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mblsha/zipforge/internal/fault"
	"github.com/mblsha/zipforge/internal/sandbox"
)

type PromotionMode string

const (
	// DirectRename renames the archive's single extracted directory onto the
	// destination.
	DirectRename PromotionMode = "direct-rename"
	// MergeMove creates the destination and moves each staged entry into it.
	MergeMove PromotionMode = "merge-move"
)

type OverwritePolicy string

const (
	PolicySkip      OverwritePolicy = "skip"
	PolicyOverwrite OverwritePolicy = "overwrite"
	PolicyRename    OverwritePolicy = "rename"
)

// ParseOverwritePolicy is case-insensitive; the empty string selects skip.
func ParseOverwritePolicy(raw string) (OverwritePolicy, error) {
	switch p := OverwritePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicySkip, nil
	case PolicySkip, PolicyOverwrite, PolicyRename:
		return p, nil
	default:
		return "", fault.InvalidArgument("overwrite must be one of skip, overwrite, rename; got %q", raw)
	}
}

type Plan struct {
	Destination sandbox.ConfinedPath
	Mode        PromotionMode
	Policy      OverwritePolicy
	Layout      Layout
	Stem        string
	// Replaced is set when the overwrite policy removed an existing
	// destination.
	Replaced bool
	// Renamed is set when the rename policy substituted a fresh sibling.
	Renamed bool
}

// PlanExtraction picks the destination and promotion mode, then applies the
// overwrite policy to the destination exactly once. Under PolicyOverwrite an
// existing destination is removed here, before any extraction work.
func PlanExtraction(out *sandbox.Root, override string, policy OverwritePolicy, layout Layout, stem string) (Plan, error) {
	plan := Plan{Mode: MergeMove, Policy: policy, Layout: layout, Stem: stem}

	name := stem
	if strings.TrimSpace(override) != "" {
		name = override
	} else if layout.Kind == LayoutSingle && layout.Root == stem {
		plan.Mode = DirectRename
	}

	dest, err := out.Confine(name)
	if err != nil {
		return Plan{}, err
	}
	if dest.IsRoot() {
		return Plan{}, fault.InvalidArgument("destination must not be the output root: %q", name)
	}

	exists, err := destinationExists(dest.Path())
	if err != nil {
		return Plan{}, fault.Internal(err, "stat destination")
	}
	if exists {
		switch policy {
		case PolicyOverwrite:
			if err := os.RemoveAll(dest.Path()); err != nil {
				return Plan{}, fault.Internal(err, "remove existing destination")
			}
			plan.Replaced = true
		case PolicyRename:
			dest, err = out.Uniquify(dest)
			if err != nil {
				return Plan{}, err
			}
			plan.Renamed = true
		default:
			return Plan{}, fault.Conflict(dest.Path())
		}
	}
	plan.Destination = dest
	return plan, nil
}

func destinationExists(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ArchiveStem is the archive's base name without its final extension.
func ArchiveStem(name string) string {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}
