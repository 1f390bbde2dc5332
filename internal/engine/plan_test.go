package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mblsha/zipforge/internal/fault"
	"github.com/mblsha/zipforge/internal/sandbox"
)

func TestParseOverwritePolicy(t *testing.T) {
	for raw, want := range map[string]OverwritePolicy{
		"":          PolicySkip,
		"skip":      PolicySkip,
		"OVERWRITE": PolicyOverwrite,
		" Rename ":  PolicyRename,
	} {
		got, err := ParseOverwritePolicy(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOverwritePolicy("merge")
	require.Error(t, err)
	assert.True(t, fault.Is(err, "INVALID_INPUT"))
}

func TestArchiveStem(t *testing.T) {
	assert.Equal(t, "invoices", ArchiveStem("invoices.zip"))
	assert.Equal(t, "backup.tar", ArchiveStem("backup.tar.7z"))
	assert.Equal(t, "README", ArchiveStem("README"))
	assert.Equal(t, ".zip", ArchiveStem(".zip"))
}

func TestPlanExtraction_DecisionTable(t *testing.T) {
	out := outRoot(t)
	tests := []struct {
		name     string
		override string
		layout   Layout
		wantRel  string
		wantMode PromotionMode
	}{
		{name: "single root matches stem", layout: Layout{Kind: LayoutSingle, Root: "invoices"}, wantRel: "invoices", wantMode: DirectRename},
		{name: "single root differs", layout: Layout{Kind: LayoutSingle, Root: "project"}, wantRel: "invoices", wantMode: MergeMove},
		{name: "mixed", layout: Layout{Kind: LayoutMixed}, wantRel: "invoices", wantMode: MergeMove},
		{name: "empty", layout: Layout{Kind: LayoutEmpty}, wantRel: "invoices", wantMode: MergeMove},
		{name: "unknown", layout: Layout{Kind: LayoutUnknown}, wantRel: "invoices", wantMode: MergeMove},
		{name: "override wins over matching root", override: "custom", layout: Layout{Kind: LayoutSingle, Root: "invoices"}, wantRel: "custom", wantMode: MergeMove},
		{name: "nested override", override: "a/b", layout: Layout{Kind: LayoutSkipped}, wantRel: filepath.Join("a", "b"), wantMode: MergeMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanExtraction(out, tt.override, PolicySkip, tt.layout, "invoices")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(out.Path(), tt.wantRel), plan.Destination.Path())
			assert.Equal(t, tt.wantMode, plan.Mode)
			assert.False(t, plan.Replaced)
			assert.False(t, plan.Renamed)
		})
	}
}

func TestPlanExtraction_RejectsRootAndEscapes(t *testing.T) {
	out := outRoot(t)

	_, err := PlanExtraction(out, ".", PolicySkip, Layout{Kind: LayoutSkipped}, "x")
	require.Error(t, err)
	assert.True(t, fault.Is(err, "INVALID_INPUT"))

	_, err = PlanExtraction(out, "../elsewhere", PolicySkip, Layout{Kind: LayoutSkipped}, "x")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeOutOfBounds))
}

func TestPlanExtraction_SkipConflicts(t *testing.T) {
	out := outRoot(t)
	require.NoError(t, os.Mkdir(filepath.Join(out.Path(), "invoices"), 0o755))

	_, err := PlanExtraction(out, "", PolicySkip, Layout{Kind: LayoutMixed}, "invoices")
	require.Error(t, err)
	assert.True(t, fault.Is(err, "CONFLICT"))
}

func TestPlanExtraction_OverwriteRemovesExisting(t *testing.T) {
	out := outRoot(t)
	existing := filepath.Join(out.Path(), "invoices")
	require.NoError(t, os.MkdirAll(filepath.Join(existing, "old"), 0o755))

	plan, err := PlanExtraction(out, "", PolicyOverwrite, Layout{Kind: LayoutMixed}, "invoices")
	require.NoError(t, err)
	assert.True(t, plan.Replaced)
	assert.Equal(t, existing, plan.Destination.Path())
	_, err = os.Stat(existing)
	assert.True(t, os.IsNotExist(err))
}

func TestPlanExtraction_RenameUniquifies(t *testing.T) {
	out := outRoot(t)
	existing := filepath.Join(out.Path(), "invoices")
	require.NoError(t, os.Mkdir(existing, 0o755))

	plan, err := PlanExtraction(out, "", PolicyRename, Layout{Kind: LayoutSingle, Root: "invoices"}, "invoices")
	require.NoError(t, err)
	assert.True(t, plan.Renamed)
	assert.Equal(t, DirectRename, plan.Mode)
	assert.NotEqual(t, existing, plan.Destination.Path())
	assert.Equal(t, out.Path(), filepath.Dir(plan.Destination.Path()))
	assert.Regexp(t, `^invoices-[0-9a-f]{6}$`, plan.Destination.Base())
	_, err = os.Stat(existing)
	assert.NoError(t, err)
}

func TestPlanExtraction_RenameWithoutCollisionKeepsName(t *testing.T) {
	out := outRoot(t)
	plan, err := PlanExtraction(out, "", PolicyRename, Layout{Kind: LayoutMixed}, "fresh")
	require.NoError(t, err)
	assert.False(t, plan.Renamed)
	assert.Equal(t, filepath.Join(out.Path(), "fresh"), plan.Destination.Path())
}

func outRoot(t *testing.T) *sandbox.Root {
	t.Helper()
	r, err := sandbox.NewRoot(t.TempDir(), true)
	require.NoError(t, err)
	return r
}
