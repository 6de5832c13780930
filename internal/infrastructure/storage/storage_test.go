package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_SaveAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	require.NoError(t, s.Save(ctx, "project-1/cert.json", []byte(`{"a":1}`)))
	assert.True(t, s.Exists(ctx, "project-1/cert.json"))

	got, err := s.Read(ctx, "project-1/cert.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	require.NoError(t, s.Save(ctx, "project-1/cert.json", []byte("v2")))
	got, err = s.Read(ctx, "project-1/cert.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	entries, err := os.ReadDir(s.GetFullPath("project-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalFileStorage_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	s := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	assert.Error(t, s.Save(ctx, "../outside.txt", []byte("x")))
	_, err := s.Read(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.False(t, s.Exists(ctx, "../outside.txt"))
}

type mockSource struct {
	cert   *entity.Certificate
	err    error
	userID string
}

func (m *mockSource) Export(ctx context.Context, appID int64) (*entity.Certificate, error) {
	m.userID = identity.UserIDFromContext(ctx)
	return m.cert, m.err
}

type mockWriter struct {
	ext   string
	calls int
	err   error
}

func (m *mockWriter) Write(ctx context.Context, cert *entity.Certificate, w io.Writer) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	_, err := io.WriteString(w, cert.Number)
	return err
}

func (m *mockWriter) ContentType() string { return "text/plain" }
func (m *mockWriter) Extension() string   { return m.ext }

func testCertificate() *entity.Certificate {
	return &entity.Certificate{Number: "abc", PayApplicationID: 9, ApplicationNumber: 2, ProjectID: 4}
}

func TestCertificateArchive_HandleFinalized(t *testing.T) {
	dir := t.TempDir()
	source := &mockSource{cert: testCertificate()}
	jsonW := &mockWriter{ext: ".json"}
	xlsxW := &mockWriter{ext: ".xlsx"}
	archive := NewCertificateArchive(dir, source, []port.CertificateWriter{jsonW, xlsxW}, zap.NewNop())

	evt := event.NewEvent(event.TypeApplicationFinalized, 4, 9, "d1", nil)
	require.NoError(t, archive.HandleFinalized(context.Background(), evt))
	assert.Equal(t, "d1", source.userID)

	content, err := os.ReadFile(filepath.Join(dir, "project-4", "application-002-abc.json"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))
	assert.FileExists(t, filepath.Join(dir, "project-4", "application-002-abc.xlsx"))

	// Already archived files are not rendered again
	require.NoError(t, archive.HandleFinalized(context.Background(), evt))
	assert.Equal(t, 1, jsonW.calls)
	assert.Equal(t, 1, xlsxW.calls)
}

func TestCertificateArchive_Errors(t *testing.T) {
	evt := event.NewEvent(event.TypeApplicationFinalized, 4, 9, "d1", nil)

	source := &mockSource{err: errors.New("not finalized")}
	archive := NewCertificateArchive(t.TempDir(), source, nil, zap.NewNop())
	err := archive.HandleFinalized(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not finalized")

	broken := &mockWriter{ext: ".xlsx", err: errors.New("render failed")}
	archive = NewCertificateArchive(t.TempDir(), &mockSource{cert: testCertificate()},
		[]port.CertificateWriter{broken}, zap.NewNop())
	err = archive.HandleFinalized(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render failed")
}
