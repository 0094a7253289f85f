package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProjectID(t *testing.T) {
	assert.NoError(t, ValidateProjectID("myapp-1"))
	assert.ErrorIs(t, ValidateProjectID("MyApp"), ErrInvalidProjectID)
	assert.ErrorIs(t, ValidateProjectID("my app"), ErrInvalidProjectID)
}

func TestEntryNameEncode(t *testing.T) {
	single := EntryName{ProjectID: "myapp", Port: 8080}
	assert.Equal(t, "app___myapp-8080", single.Encode())

	group := EntryName{ProjectID: "myapp"}
	assert.Equal(t, "app___myapp", group.Encode())

	assert.Equal(t, "appscale-app___myapp-8080.cfg", single.ConfigFileName())
	assert.Equal(t, "app___myapp-8080.pid", single.PIDFileName())
}

func TestParseEntryNameRoundTrips(t *testing.T) {
	single := EntryName{ProjectID: "myapp", Port: 8080}
	parsed, ok := ParseEntryName(single.Encode())
	require.True(t, ok)
	assert.Equal(t, single, parsed)

	group := EntryName{ProjectID: "myapp"}
	parsed, ok = ParseEntryName(group.Encode())
	require.True(t, ok)
	assert.Equal(t, group, parsed)
}

func TestParseEntryNameRejectsUnprefixed(t *testing.T) {
	_, ok := ParseEntryName("myapp-8080")
	assert.False(t, ok)
}

func TestParseEntryNameProjectIDWithHyphens(t *testing.T) {
	entry := EntryName{ProjectID: "my-app-name", Port: 9090}
	parsed, ok := ParseEntryName(entry.Encode())
	require.True(t, ok)
	assert.Equal(t, entry, parsed)
}

func TestRevisionKeyPath(t *testing.T) {
	key := RevisionKey{ProjectID: "myapp", ServiceID: "default", VersionID: "v1", Revision: 3}
	assert.Equal(t, "myapp/default/v1/3", key.Path())
	assert.Equal(t, key.Path(), key.String())
}
