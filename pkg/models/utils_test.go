package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type innerCreds struct {
	User     string `json:"user"`
	Password string `json:"password" sensitive:"true"`
}

type filterTarget struct {
	Name    string            `json:"name"`
	Token   string            `json:"token,omitempty" sensitive:"true"`
	Timeout Duration          `json:"timeout"`
	Creds   *innerCreds       `json:"creds,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Skip    string            `json:"-"`
	hidden  string
}

func TestFilterSensitiveFields(t *testing.T) {
	in := filterTarget{
		Name:    "edge",
		Token:   "s3cret",
		Timeout: Duration(5 * time.Second),
		Creds:   &innerCreds{User: "admin", Password: "hunter2"},
		Skip:    "x",
		hidden:  "y",
	}

	out, err := FilterSensitiveFields(&in)
	require.NoError(t, err)

	assert.Equal(t, "edge", out["name"])
	assert.NotContains(t, out, "token")
	assert.NotContains(t, out, "labels")
	assert.NotContains(t, out, "-")
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, Duration(5*time.Second), out["timeout"])
	assert.Equal(t, map[string]interface{}{"user": "admin"}, out["creds"])
}

func TestFilterSensitiveFieldsRejectsScalars(t *testing.T) {
	_, err := FilterSensitiveFields(42)
	require.ErrorIs(t, err, errNotStruct)

	out, err := FilterSensitiveFields((*filterTarget)(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}
