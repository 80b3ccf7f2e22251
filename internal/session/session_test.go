package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newManifold(t *testing.T) *Manifold {
	t.Helper()
	m, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)
	return m
}

func TestCreateFromUploadBuildsWorkspace(t *testing.T) {
	m := newManifold(t)
	man, err := m.CreateFromUpload(context.Background(), "part one.STEP", []byte("geometry"))
	require.NoError(t, err)
	require.Equal(t, "session_0001", man.SessionID)
	require.Equal(t, StatusIdle, man.Status)
	require.Equal(t, "created", man.Stage)
	require.Equal(t, []string{"input/part_one.STEP"}, man.Assets)

	for _, sub := range subdirs {
		require.DirExists(t, filepath.Join(m.WorkspaceDir(man.SessionID), sub))
	}
	data, err := os.ReadFile(filepath.Join(m.WorkspaceDir(man.SessionID), "input", "part_one.STEP"))
	require.NoError(t, err)
	require.Equal(t, "geometry", string(data))
}

func TestCreateFromUploadRejectsEmptySanitizedName(t *testing.T) {
	m := newManifold(t)
	_, err := m.CreateFromUpload(context.Background(), "***", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAppendUserPromptAndApplyTransition(t *testing.T) {
	m := newManifold(t)
	man, err := m.CreateFromUpload(context.Background(), "part.step", []byte("x"))
	require.NoError(t, err)

	man, err = m.AppendUserPrompt(context.Background(), man.SessionID, "fit a cylinder")
	require.NoError(t, err)
	require.Len(t, man.Messages, 1)
	require.Equal(t, RoleUser, man.Messages[0].Role)

	man, err = m.ApplyTransition(context.Background(), man.SessionID, TransitionOptions{
		Status:           StatusProcessing,
		Stage:            "geometry_fit",
		PlannedTool:      "dsl_fit_open3d",
		AssistantMessage: "Executed dsl_fit_open3d.",
		AppendAssets:     []string{"geometry/fit.json", "input/part.step"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, man.Status)
	require.Equal(t, "geometry_fit", man.Stage)
	require.Equal(t, "dsl_fit_open3d", man.PlannedTool)
	require.Len(t, man.Messages, 2)
	require.Equal(t, []string{"input/part.step", "geometry/fit.json"}, man.Assets)

	reloaded, err := m.Get(context.Background(), man.SessionID)
	require.NoError(t, err)
	require.Equal(t, man.Stage, reloaded.Stage)
	require.Equal(t, man.Assets, reloaded.Assets)
}

func TestApplyTransitionClearsPlannedTool(t *testing.T) {
	m := newManifold(t)
	man, err := m.CreateFromUpload(context.Background(), "part.step", []byte("x"))
	require.NoError(t, err)

	man, err = m.ApplyTransition(context.Background(), man.SessionID, TransitionOptions{PlannedTool: "dsl_fit_open3d"})
	require.NoError(t, err)
	require.Equal(t, "dsl_fit_open3d", man.PlannedTool)

	man, err = m.ApplyTransition(context.Background(), man.SessionID, TransitionOptions{Status: StatusIdle, ClearPlannedTool: true})
	require.NoError(t, err)
	require.Empty(t, man.PlannedTool)
}

func TestAssetReaderRejectsTraversal(t *testing.T) {
	m := newManifold(t)
	man, err := m.CreateFromUpload(context.Background(), "part.step", []byte("geometry-bytes"))
	require.NoError(t, err)

	asset, err := m.AssetReader(context.Background(), man.SessionID, "input/part.step")
	require.NoError(t, err)
	require.Equal(t, "geometry-bytes", string(asset.Bytes))

	_, err = m.AssetReader(context.Background(), man.SessionID, "../../../etc/passwd")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = m.AssetReader(context.Background(), man.SessionID, "nonexistent.json")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHydrationSeedsNextSessionID(t *testing.T) {
	root := t.TempDir()
	m := newManifoldAt(t, root)
	first, err := m.CreateFromUpload(context.Background(), "a.step", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "session_0001", first.SessionID)

	reopened := newManifoldAt(t, root)
	second, err := reopened.CreateFromUpload(context.Background(), "b.step", []byte("y"))
	require.NoError(t, err)
	require.Equal(t, "session_0002", second.SessionID)
}

func newManifoldAt(t *testing.T, root string) *Manifold {
	t.Helper()
	m, err := New(Config{Root: root})
	require.NoError(t, err)
	return m
}
