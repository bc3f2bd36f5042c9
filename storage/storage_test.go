package storage

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("avatar", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, "/", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["avatar"][0]
}

func TestValidateFileAcceptsPNG(t *testing.T) {
	v := NewImageValidator(1)
	mt, err := v.ValidateFile(fileHeader(t, "me.png", pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)
}

func TestValidateFileRejects(t *testing.T) {
	v := NewImageValidator(1)

	_, err := v.ValidateFile(fileHeader(t, "me.exe", pngHeader))
	assert.ErrorContains(t, err, "extension")

	_, err = v.ValidateFile(fileHeader(t, "me.png", []byte("<html><body>hi</body></html>")))
	assert.ErrorContains(t, err, "file type")

	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2<<20)...)
	_, err = v.ValidateFile(fileHeader(t, "me.png", big))
	assert.ErrorContains(t, err, "too large")
}

func TestAvatarObjectName(t *testing.T) {
	name := avatarObjectName("u1", "Me.JPG")
	assert.True(t, strings.HasPrefix(name, "avatars/u1/"))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
}

func TestObjectNameFromGCSPublicURL(t *testing.T) {
	obj, err := ObjectNameFromGCSPublicURL("bkt", "https://storage.googleapis.com/bkt/avatars/u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1/a.png", obj)

	obj, err = ObjectNameFromGCSPublicURL("bkt", "https://bkt.storage.googleapis.com/avatars/a.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/a.png", obj)

	_, err = ObjectNameFromGCSPublicURL("bkt", "https://storage.googleapis.com/other/a.png")
	assert.Error(t, err)
}

func TestObjectNameFromR2PublicURL(t *testing.T) {
	obj, err := ObjectNameFromR2PublicURL("https://files.example", "bkt", "https://files.example/bkt/avatars/a.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/a.png", obj)

	obj, err = ObjectNameFromR2PublicURL("", "bkt", "https://pub-1.r2.dev/avatars/a.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/a.png", obj)

	_, err = ObjectNameFromR2PublicURL("", "bkt", "ftp://x/a.png")
	assert.Error(t, err)
}

func TestNewR2StoreRequiresPublicDomain(t *testing.T) {
	_, err := NewR2Store(context.Background(), R2Options{
		Bucket:    "avatars",
		AccessKey: "key",
		SecretKey: "secret",
		Endpoint:  "https://acct.r2.cloudflarestorage.com",
	})
	assert.ErrorContains(t, err, "R2_PUBLIC_DOMAIN")
}
