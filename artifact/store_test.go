package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteOpen(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	key := Key{Pipeline: "mnist_pipeline", Run: "run-1", Step: "trainer", Output: "model"}

	uri, err := s.Write(key, "json", func(w io.Writer) error {
		_, err := io.WriteString(w, `{"k":1}`)
		return err
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, filepath.ToSlash(filepath.Join("mnist_pipeline", "run-1", "trainer", "model.json"))))

	rc, err := s.Open(uri)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(b))
}

func TestStore_WriteErrorRemovesFile(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	key := Key{Pipeline: "p", Run: "r", Step: "s", Output: "out"}
	_, err := s.Write(key, "txt", func(w io.Writer) error { return errors.New("boom") })
	require.Error(t, err)

	_, statErr := os.Stat(s.Path(key, "txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_PathSanitizes(t *testing.T) {
	s := NewLocalStore("root")
	p := s.Path(Key{Pipeline: "a/b", Run: "r:1", Step: "", Output: "o"}, "")
	assert.Equal(t, filepath.Join("root", "a_b", "r_1", "_", "o"), p)

	p = s.Path(Key{Pipeline: "p", Run: "..", Step: ".", Output: ".."}, "json")
	assert.Equal(t, filepath.Join("root", "p", "_", "_", "_.json"), p)

	p = s.Path(Key{Pipeline: "p", Run: "r", Step: "../..", Output: "o"}, "")
	assert.Equal(t, filepath.Join("root", "p", "r", ".._..", "o"), p)
}
