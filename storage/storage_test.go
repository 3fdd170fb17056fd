package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	id := uuid.New()
	path, err := s.Upload(ctx, id, "Master Services Agreement.PDF", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "contracts/"+id.String()[:2]+"/"+id.String()+"/"))
	assert.True(t, strings.HasSuffix(path, "Master_Services_Agreement.pdf"))

	rc, err := s.Download(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, s.Delete(ctx, path))
	_, err = s.Download(ctx, path)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.NoError(t, s.Delete(ctx, path), "deleting twice is not an error")
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Download(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

func TestStorageConfig_Validate(t *testing.T) {
	assert.NoError(t, StorageConfig{Type: StorageTypeLocal, LocalPath: "x"}.Validate())
	assert.Error(t, StorageConfig{Type: StorageTypeS3}.Validate())
	assert.Error(t, StorageConfig{Type: "ftp"}.Validate())
}

func TestGenerateStoragePath_SanitizesName(t *testing.T) {
	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
	assert.Equal(t, "contracts/12/12345678-1234-1234-1234-123456789abc/a_b_c.docx",
		generateStoragePath(id, `dir/a b:c.DOCX`))
}
