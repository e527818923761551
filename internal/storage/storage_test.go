package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationRoundTrip(t *testing.T) {
	loc := Location("media-archive", "streamwatch-archive/abc123")
	assert.Equal(t, "s3://media-archive/streamwatch-archive/abc123", loc)

	bucket, prefix, err := ParseLocation(loc)
	require.NoError(t, err)
	assert.Equal(t, "media-archive", bucket)
	assert.Equal(t, "streamwatch-archive/abc123", prefix)
}

func TestLocationTrimsSlashes(t *testing.T) {
	assert.Equal(t, "s3://b/p", Location("b", "/p/"))
}

func TestParseLocationRejectsOtherSchemes(t *testing.T) {
	_, _, err := ParseLocation("gs://bucket/prefix")
	assert.Error(t, err)

	_, _, err = ParseLocation("s3://")
	assert.Error(t, err)
}

func TestParseLocationBucketOnly(t *testing.T) {
	bucket, prefix, err := ParseLocation("s3://just-bucket")
	require.NoError(t, err)
	assert.Equal(t, "just-bucket", bucket)
	assert.Equal(t, "", prefix)
}
