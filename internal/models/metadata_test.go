package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataUnmarshalAge(t *testing.T) {
	var md Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"age":34,"gender":"female"}`), &md))
	require.NotNil(t, md.Age)
	assert.Equal(t, 34, *md.Age)
	assert.Equal(t, "female", md.Gender)

	require.NoError(t, json.Unmarshal([]byte(`{"age":" 41 ","problem":" swędzenie "}`), &md))
	assert.Equal(t, 41, *md.Age)
	assert.Equal(t, "swędzenie", md.Problem)
	assert.Empty(t, md.Gender)

	require.NoError(t, json.Unmarshal([]byte(`{"age":""}`), &md))
	assert.Nil(t, md.Age)
	assert.True(t, md.IsEmpty())

	require.Error(t, json.Unmarshal([]byte(`{"age":"old"}`), &md))
}

func TestMetadataMarshalOmitsEmpty(t *testing.T) {
	age := 0
	raw, err := json.Marshal(Metadata{Age: &age})
	require.NoError(t, err)
	assert.JSONEq(t, `{"age":0}`, string(raw))

	var nilMd *Metadata
	assert.True(t, nilMd.IsEmpty())
	assert.True(t, ValidGender(GenderOther))
	assert.False(t, ValidGender(""))
}
