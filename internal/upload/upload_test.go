package upload

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/internal/artifact"
	"github.com/agentgrid/agentgrid/internal/common/config"
	"github.com/agentgrid/agentgrid/internal/common/logger"
	"github.com/agentgrid/agentgrid/internal/store"
	v1 "github.com/agentgrid/agentgrid/pkg/api/v1"
)

func newFixture(t *testing.T) (*Service, store.Store, *artifact.MemoryStore) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.CreateProject(context.Background(), &store.Project{
		ID: "proj-1", Name: "proj-1", OrganizationID: "org-1",
	}))

	artifacts := artifact.NewMemoryStore("artifacts")
	svc := NewService(st, artifacts, config.UploadConfig{}, log)
	return svc, st, artifacts
}

func manifest(paths ...string) v1.CreateFolderUploadRequest {
	req := v1.CreateFolderUploadRequest{}
	for _, p := range paths {
		req.Files = append(req.Files, v1.UploadFile{RelativePath: p, FileSize: 100})
	}
	return req
}

func TestCreateValidManifest(t *testing.T) {
	svc, st, _ := newFixture(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, "Proj-1", manifest("readme.md", "src/main.go", "src/lib/util.go"))
	require.NoError(t, err)

	assert.Equal(t, "proj-1", u.ProjectID)
	assert.Equal(t, 3, u.TotalFiles)
	assert.Equal(t, int64(300), u.TotalSize)
	assert.Equal(t, 2, u.MaxDepth)

	byPath := map[string]store.UploadFile{}
	for _, f := range u.Files {
		byPath[f.RelativePath] = f
	}
	assert.Equal(t, "", byPath["readme.md"].ParentPath)
	assert.Equal(t, 0, byPath["readme.md"].Depth)
	assert.Equal(t, "src", byPath["src/main.go"].ParentPath)
	assert.Equal(t, fmt.Sprintf("artifacts/proj-1/folders/%s/files/src/lib/util.go", u.ID),
		byPath["src/lib/util.go"].S3Key)

	stored, err := st.GetFolderUpload(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.TotalFiles, stored.TotalFiles)
}

func TestCreateRejectsBlockedExtension(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.Create(context.Background(), "proj-1", manifest("tools/setup.EXE"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 1)
	assert.Equal(t, "tools/setup.EXE", verr.Problems[0].RelativePath)
	assert.Contains(t, verr.Problems[0].Reason, ".exe")
}

func TestCreateRejectsPathTraversal(t *testing.T) {
	svc, _, _ := newFixture(t)

	for _, bad := range []string{"../secrets.txt", "a/../../b.txt", "/etc/passwd", `a\b.txt`} {
		_, err := svc.Create(context.Background(), "proj-1", manifest(bad))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "path %q must be rejected", bad)
	}
}

func TestCreateRejectsTooManyFiles(t *testing.T) {
	svc, _, _ := newFixture(t)

	req := v1.CreateFolderUploadRequest{}
	for i := 0; i < 1001; i++ {
		req.Files = append(req.Files, v1.UploadFile{
			RelativePath: fmt.Sprintf("f-%d.txt", i), FileSize: 1,
		})
	}
	_, err := svc.Create(context.Background(), "proj-1", req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0].Reason, "1001 files")
}

func TestCreateRejectsDepthAndSize(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	deep := "a/b/c/d/e/f/g/h/i/j/k/file.txt" // depth 11
	_, err := svc.Create(ctx, "proj-1", manifest(deep))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0].Reason, "depth 11")

	_, err = svc.Create(ctx, "proj-1", v1.CreateFolderUploadRequest{Files: []v1.UploadFile{
		{RelativePath: "huge.dat", FileSize: 51 * 1024 * 1024},
	}})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0].Reason, "file size")
}

func TestCreateCollectsAllProblems(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.Create(context.Background(), "proj-1",
		manifest("ok.txt", "bad.exe", "../oops.txt", "ok.txt"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 3)
}

func TestCreateUnknownProject(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.Create(context.Background(), "nope", manifest("a.txt"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc, st, _ := newFixture(t)
	ctx := context.Background()
	require.NoError(t, st.CreateProject(ctx, &store.Project{
		ID: "proj-2", Name: "proj-2", OrganizationID: "org-1",
	}))

	u, err := svc.Create(ctx, "proj-1", manifest("a.txt"))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "proj-1", u.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "proj-2", u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesManifestAndObjects(t *testing.T) {
	svc, st, artifacts := newFixture(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, "proj-1", manifest("a.txt"))
	require.NoError(t, err)
	key := u.Files[0].S3Key
	_, err = artifacts.Put(ctx, key, "text/plain", []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "proj-1", u.ID))

	_, err = st.GetFolderUpload(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = artifacts.Get(ctx, key)
	assert.Error(t, err)
}
