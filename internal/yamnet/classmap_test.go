package yamnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchme/sed-go/internal/errors"
)

const sampleClassMap = `index,mid,display_name
0,/m/09x0r,Speech
1,/m/05zppz,"Male speech, man speaking"
2,/m/02zsn,"Female speech, woman speaking"
`

func TestParseClassMap(t *testing.T) {
	t.Parallel()

	labels, err := parseClassMap(strings.NewReader(sampleClassMap))
	require.NoError(t, err)
	assert.Equal(t, []string{"Speech", "Male speech, man speaking", "Female speech, woman speaking"}, labels)
}

func TestParseClassMapEmpty(t *testing.T) {
	t.Parallel()

	_, err := parseClassMap(strings.NewReader("index,mid,display_name\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}

func TestParseClassMapMalformedRow(t *testing.T) {
	t.Parallel()

	_, err := parseClassMap(strings.NewReader("a,b\n1,2\n3,4\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}
