package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/EricMurray-e-m-dev/SiteGuard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testViolation(kind models.HazardKind) *models.Violation {
	subject := models.SubjectKey{CameraID: "cam 1", WorkerID: "w7"}
	if kind == models.HazardTooClose {
		subject.MachineID = "m2"
	}
	return &models.Violation{
		ID:       "0f3c9a2e-1111-2222-3333-444455556666",
		CameraID: "cam 1",
		Kind:     kind,
		Subject:  subject,
		OpenedAt: time.Date(2026, 3, 1, 8, 30, 15, 0, time.UTC),
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "gear_missing_cam-1_w7_20260301_083015_0f3c9a2e.jpg", Filename(testViolation(models.HazardGearMissing)))
	assert.Equal(t, "too_close_cam-1_w7-m2_20260301_083015_0f3c9a2e.jpg", Filename(testViolation(models.HazardTooClose)))
}

func TestFileCapturer_WritesScreenshot(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCapturer(dir, 4)
	require.NoError(t, err)

	v := testViolation(models.HazardGearMissing)
	ref := c.Capture(&models.Frame{CameraID: "cam 1", Image: []byte("jpeg-bytes")}, v)
	c.Close()

	require.True(t, strings.HasPrefix(ref, "/violations/gear_missing/"))

	data, err := os.ReadFile(filepath.Join(dir, "gear_missing", Filename(v)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Equal(t, uint64(1), c.Stats().Saved)
}

func TestFileCapturer_SkipsWithoutImage(t *testing.T) {
	c, err := NewFileCapturer(t.TempDir(), 4)
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.Capture(&models.Frame{CameraID: "cam-1"}, testViolation(models.HazardTooClose)))
	assert.Empty(t, c.Capture(nil, testViolation(models.HazardTooClose)))
	assert.Equal(t, uint64(2), c.Stats().Skipped)
}

func TestFileCapturer_ClosedSkips(t *testing.T) {
	c, err := NewFileCapturer(t.TempDir(), 4)
	require.NoError(t, err)
	c.Close()
	c.Close()

	assert.Empty(t, c.Capture(&models.Frame{Image: []byte("x")}, testViolation(models.HazardGearMissing)))
}
