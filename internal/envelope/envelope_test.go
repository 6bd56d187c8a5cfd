package envelope

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems() []json.RawMessage {
	return []json.RawMessage{
		json.RawMessage(`{"type":4,"timestamp":1700000000000,"data":{"href":"https://app.example.com"}}`),
		json.RawMessage(`{"type":2,"timestamp":1700000000100,"data":{"node":{}}}`),
	}
}

func TestNewFillsIdentityFields(t *testing.T) {
	env := New("proj-1", "sess-1", SourceRRWeb, testItems())

	assert.NotEmpty(t, env.EnvelopeID)
	assert.Equal(t, "proj-1", env.ProjectID)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, SourceRRWeb, env.Source)
	assert.NotZero(t, env.ReceivedAt)
	assert.Len(t, env.Items, 2)

	other := New("proj-1", "sess-1", SourceRRWeb, testItems())
	assert.NotEqual(t, env.EnvelopeID, other.EnvelopeID)
}

func TestValidate(t *testing.T) {
	valid := New("proj-1", "sess-1", SourceBlobV2, testItems())
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing project", func(e *Envelope) { e.ProjectID = "" }},
		{"missing session", func(e *Envelope) { e.SessionID = "" }},
		{"unknown source", func(e *Envelope) { e.Source = "segment" }},
		{"empty source", func(e *Envelope) { e.Source = "" }},
		{"no items", func(e *Envelope) { e.Items = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := New("proj-1", "sess-1", SourceBlobV2, testItems())
			tc.mutate(&env)
			assert.Error(t, env.Validate())
		})
	}
}

func TestSourceValid(t *testing.T) {
	for _, s := range []Source{SourceRRWeb, SourceBlobV2, SourceAmplitude, SourceMixpanel} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Source("heap").Valid())
	assert.False(t, Source("").Valid())
}

func TestMarshalRoundTrip(t *testing.T) {
	env := New("proj-9", "sess-9", SourceMixpanel, testItems())
	env.DistinctID = "user-42"
	env.Device = &DeviceContext{Browser: "Firefox", OS: "Linux", DeviceType: "desktop"}

	raw, err := env.Marshal()
	require.NoError(t, err)

	back, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EnvelopeID, back.EnvelopeID)
	assert.Equal(t, env.DistinctID, back.DistinctID)
	assert.Equal(t, env.Source, back.Source)
	require.NotNil(t, back.Device)
	assert.Equal(t, "Firefox", back.Device.Browser)
	require.Len(t, back.Items, 2)
	assert.JSONEq(t, string(env.Items[0]), string(back.Items[0]))
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
