package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mgrandl/pacer/internal/version"
)

func TestString(t *testing.T) {
	out := version.String("pacer")
	assert.Contains(t, out, "pacer "+version.Version)
	assert.Contains(t, out, version.GitCommit)
	assert.Contains(t, out, version.GoVersion())
}
