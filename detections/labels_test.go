package detections

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelFor(t *testing.T) {
	assert.Equal(t, "person", LabelFor(CocoLabels, 0))
	assert.Equal(t, "toothbrush", LabelFor(CocoLabels, 79))
	assert.Equal(t, "Unknown (80)", LabelFor(CocoLabels, 80))
	assert.Equal(t, "Unknown (-1)", LabelFor(CocoLabels, -1))
	assert.Equal(t, "Unknown (0)", LabelFor(nil, 0))
}

func TestCocoLabelsMatchModelClasses(t *testing.T) {
	assert.Len(t, CocoLabels, NumClasses)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\n\n  dog \nbird\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog", "bird"}, labels)
}

func TestLoadLabelsErrors(t *testing.T) {
	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.ErrorContains(t, err, "empty")
}
