package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleShape struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
	Flag  any    `json:"flag" types:"boolean,string"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(sampleShape{})
	props := schema["properties"].(map[string]any)

	assert.Equal(t, "string", props["name"].(map[string]any)["type"])
	assert.Equal(t, "integer", props["count"].(map[string]any)["type"])
	assert.Equal(t, []string{"boolean", "string"}, props["flag"].(map[string]any)["type"])
	assert.ElementsMatch(t, []string{"name", "flag"}, schema["required"])
}

func TestSchemaValidate(t *testing.T) {
	s := MustCompileSchema(CreateSchema(sampleShape{}))

	require.NoError(t, s.Validate([]byte(`{"name":"x","flag":true}`)))
	require.NoError(t, s.Validate([]byte(`{"name":"x","flag":"yes","extra":1}`)))

	err := s.Validate([]byte(`{"name":"x","flag":3}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "flag", verr.Field)

	require.Error(t, s.Validate([]byte(`{"name":"x"}`)))
	require.Error(t, s.Validate([]byte(`[1,2]`)))
	require.Error(t, s.Validate([]byte(`not json`)))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = RenderTemplate(`Speak as {{first .speaker}} <{{default "none" .goal}}>`, map[string]any{"speaker": "Rhea Vale"})
	require.NoError(t, err)
	assert.Equal(t, "Speak as Rhea <none>", out)

	_, err = RenderTemplate("{{ broken", nil)
	require.Error(t, err)
}
