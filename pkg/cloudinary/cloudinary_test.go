package cloudinary

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublicID(t *testing.T) {
	cases := map[string]string{
		"My Essay (final).PDF": "my-essay--final-ab12.pdf",
		"../../etc/passwd":     "passwd-ab12",
		"???.txt":              "attachment-ab12.txt",
		"notes.tar.gz":         "notes-tar-ab12.gz",
	}
	for name, expected := range cases {
		require.Equal(t, expected, PublicID(name, "ab12"), name)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.New(io.Discard))
	require.Error(t, err)

	store, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/"}, zerolog.New(io.Discard))
	require.NoError(t, err)
	require.Equal(t, DefaultFolder, store.folder)
}
